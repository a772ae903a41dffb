package runtime

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// LoginTimeout bounds the wait for the browser redirect before falling back
// to a pasted code.
var LoginTimeout = 2 * time.Minute

// Login runs the installed-app flow: it prints the consent URL, captures the
// code on a loopback listener (or reads a pasted code or redirect URL from
// in), exchanges it and saves the token to tokenPath.
func Login(ctx context.Context, oc *oauth2.Config, tokenPath string, in io.Reader, out io.Writer) (*oauth2.Token, error) {
	cfg := *oc
	state := uuid.NewString()

	code, err := loopbackCode(ctx, &cfg, state, out)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		_, _ = fmt.Fprintf(out, "Loopback login unavailable (%v); falling back to manual paste.\n", err)
		cfg.RedirectURL = oc.RedirectURL
		code, err = pastedCode(&cfg, state, in, out)
		if err != nil {
			return nil, err
		}
	}

	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("token exchange: %w", err)
	}
	if err := SaveToken(tokenPath, tok); err != nil {
		return nil, fmt.Errorf("save token: %w", err)
	}
	_, _ = fmt.Fprintf(out, "Authorization successful. Token saved to %s\n", tokenPath)
	return tok, nil
}

func loopbackCode(ctx context.Context, cfg *oauth2.Config, state string, out io.Writer) (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("listen on loopback: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", port)

	codes := make(chan string, 1)
	mux := http.NewServeMux()
	srv := &http.Server{ReadHeaderTimeout: 5 * time.Second, Handler: mux}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}
		_, _ = fmt.Fprintln(w, "Authentication complete. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})
	go func() { _ = srv.Serve(ln) }()
	defer func() { _ = srv.Shutdown(context.WithoutCancel(ctx)) }()

	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	_, _ = fmt.Fprintln(out, "Open this URL in your browser to authorize gmailpurge:")
	_, _ = fmt.Fprintln(out, authURL)
	_, _ = fmt.Fprintf(out, "Waiting for redirect on %s\n", cfg.RedirectURL)

	timer := time.NewTimer(LoginTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case code := <-codes:
		return code, nil
	case <-timer.C:
		return "", errors.New("timed out waiting for redirect")
	}
}

func pastedCode(cfg *oauth2.Config, state string, in io.Reader, out io.Writer) (string, error) {
	authURL := cfg.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	_, _ = fmt.Fprintln(out, authURL)
	_, _ = fmt.Fprint(out, "Paste the authorization code or the full redirect URL: ")

	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return "", fmt.Errorf("read auth code: %w", err)
		}
		return "", errors.New("empty authorization code")
	}
	return ParseAuthCode(sc.Text())
}

// ParseAuthCode accepts either a bare code or a redirect URL carrying one.
func ParseAuthCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		return "", errors.New("no code parameter in pasted URL")
	}
	return code, nil
}
