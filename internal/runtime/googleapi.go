// internal/runtime/googleapi.go adapts *gmail.Service to the small gmail.Client interface
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/joshsymonds/gmailpurge/internal/gmail"
)

const userID = "me"

// GoogleClient implements gmail.Client on top of the generated Gmail service.
type GoogleClient struct{ svc *gmailv1.Service }

// NewGoogleAPIClient wraps svc.
func NewGoogleAPIClient(svc *gmailv1.Service) *GoogleClient { return &GoogleClient{svc: svc} }

var _ gmail.Client = (*GoogleClient)(nil)

func (g *GoogleClient) List(ctx context.Context, q gmail.Query, pageToken string, pageSize int) (gmail.ListPage, error) {
	call := g.svc.Users.Messages.List(userID).Q(q.Raw).MaxResults(int64(pageSize))
	if pageToken != "" {
		call = call.PageToken(pageToken)
	}
	res, err := call.Context(ctx).Do()
	if err != nil {
		return gmail.ListPage{}, classifyError("messages.list", err)
	}
	if res == nil {
		return gmail.ListPage{}, fmt.Errorf("messages.list: %w: empty response", gmail.ErrMalformedResponse)
	}
	page := gmail.ListPage{NextPageToken: res.NextPageToken}
	for i, m := range res.Messages {
		if m == nil || m.Id == "" {
			return gmail.ListPage{}, fmt.Errorf("messages.list: %w: message %d has no id", gmail.ErrMalformedResponse, i)
		}
		page.IDs = append(page.IDs, gmail.MessageID(m.Id))
	}
	return page, nil
}

func (g *GoogleClient) GetMetadata(ctx context.Context, id gmail.MessageID, headers []string) (gmail.MessageMeta, error) {
	msg, err := g.svc.Users.Messages.Get(userID, string(id)).
		Format("metadata").
		MetadataHeaders(headers...).
		Context(ctx).
		Do()
	if err != nil {
		return gmail.MessageMeta{}, classifyError("messages.get", err)
	}
	if msg == nil || msg.Payload == nil {
		return gmail.MessageMeta{}, fmt.Errorf("messages.get %s: %w: no payload", id, gmail.ErrMalformedResponse)
	}
	h := make(map[string]string, len(msg.Payload.Headers))
	for _, hd := range msg.Payload.Headers {
		if hd == nil {
			continue
		}
		h[hd.Name] = hd.Value
	}
	meta := gmail.MessageMeta{ID: id, Headers: h}
	if msg.InternalDate > 0 {
		meta.Date = time.UnixMilli(msg.InternalDate)
	}
	return meta, nil
}

func (g *GoogleClient) BatchModify(ctx context.Context, ids []gmail.MessageID, ops gmail.ModifyOps) error {
	if len(ids) > gmail.MaxBatchSize {
		return fmt.Errorf("messages.batchModify: %d ids exceeds limit %d", len(ids), gmail.MaxBatchSize)
	}
	req := &gmailv1.BatchModifyMessagesRequest{Ids: toStrings(ids)}
	if len(ops.AddLabels) > 0 {
		req.AddLabelIds = labelStrings(ops.AddLabels)
	}
	if len(ops.RemoveLabels) > 0 {
		req.RemoveLabelIds = labelStrings(ops.RemoveLabels)
	}
	if err := g.svc.Users.Messages.BatchModify(userID, req).Context(ctx).Do(); err != nil {
		return classifyError("messages.batchModify", err)
	}
	return nil
}

// Profile returns the address of the authenticated account.
func (g *GoogleClient) Profile(ctx context.Context) (string, error) {
	p, err := g.svc.Users.GetProfile(userID).Context(ctx).Do()
	if err != nil {
		return "", classifyError("users.getProfile", err)
	}
	return p.EmailAddress, nil
}

// rate limiting arrives as 403 too but is not an authorization problem
var rateLimitReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
}

// classifyError maps credential failures to gmail.ErrAuth and prefixes op.
func classifyError(op string, err error) error {
	if isAuthError(err) {
		return fmt.Errorf("%s: %w: %w", op, gmail.ErrAuth, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isAuthError(err error) bool {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return true
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	switch gerr.Code {
	case http.StatusUnauthorized:
		return true
	case http.StatusForbidden:
		for _, item := range gerr.Errors {
			if rateLimitReasons[item.Reason] {
				return false
			}
		}
		return true
	}
	return false
}

func toStrings(ids []gmail.MessageID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func labelStrings(labels []gmail.LabelID) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = string(l)
	}
	return out
}
