package query

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
)

type forwardCall struct {
	method, path string
	body         []byte
}

type stubForwarder struct {
	calls     []forwardCall
	responses []stubResponse
}

type stubResponse struct {
	status  int
	payload string
	err     error
}

func (f *stubForwarder) Forward(ctx context.Context, method, path string, body []byte) (int, []byte, error) {
	f.calls = append(f.calls, forwardCall{method: method, path: path, body: body})
	if len(f.responses) == 0 {
		return http.StatusOK, []byte(`{"done":true,"records":[]}`), nil
	}
	r := f.responses[0]
	f.responses = f.responses[1:]
	return r.status, []byte(r.payload), r.err
}

func TestRunEncodesQueryAndPreservesOrder(t *testing.T) {
	fwd := &stubForwarder{responses: []stubResponse{{
		status:  http.StatusOK,
		payload: `{"totalSize":3,"done":true,"records":[{"Id":"c"},{"Id":"a"},{"Id":"b"}]}`,
	}}}
	svc := NewService(fwd, "")

	soql := "SELECT Id FROM LoyaltyProgramMember WHERE MembershipNumber = 'A-100'"
	type rec struct{ Id string }
	recs, err := All[rec](context.Background(), svc, soql)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(fwd.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(fwd.calls))
	}
	call := fwd.calls[0]
	if call.method != http.MethodGet {
		t.Errorf("method = %s, want GET", call.method)
	}
	prefix := "/services/data/v65.0/query?q="
	if !strings.HasPrefix(call.path, prefix) {
		t.Fatalf("path = %q, want prefix %q", call.path, prefix)
	}
	decoded, err := url.QueryUnescape(strings.TrimPrefix(call.path, prefix))
	if err != nil || decoded != soql {
		t.Errorf("decoded query = %q (%v), want %q", decoded, err, soql)
	}

	var order []string
	for _, r := range recs {
		order = append(order, r.Id)
	}
	if strings.Join(order, ",") != "c,a,b" {
		t.Errorf("order = %v, want [c a b]", order)
	}
}

func TestRunFollowsNextRecordsURL(t *testing.T) {
	fwd := &stubForwarder{responses: []stubResponse{
		{status: 200, payload: `{"done":false,"nextRecordsUrl":"/services/data/v65.0/query/01g-2000","records":[{"Id":"1"}]}`},
		{status: 200, payload: `{"done":true,"records":[{"Id":"2"}]}`},
	}}
	recs, err := NewService(fwd, "v65.0").Run(context.Background(), "SELECT Id FROM Voucher")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if fwd.calls[1].path != "/services/data/v65.0/query/01g-2000" {
		t.Errorf("second path = %q", fwd.calls[1].path)
	}
}

func TestRunRemoteError(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
	}{
		{"array form", `[{"message":"unexpected token: FROM","errorCode":"MALFORMED_QUERY"}]`, "unexpected token: FROM"},
		{"object form", `{"message":"session expired"}`, "session expired"},
		{"proxy form", `{"error":"connect refused"}`, "connect refused"},
		{"unparseable", `<html>`, "API Error"},
		{"empty array", `[]`, "API Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fwd := &stubForwarder{responses: []stubResponse{{status: 400, payload: tt.payload}}}
			_, err := NewService(fwd, "").Run(context.Background(), "SELECT Id FROM Promotion")
			var qe *RemoteQueryError
			if !errors.As(err, &qe) {
				t.Fatalf("err = %v, want RemoteQueryError", err)
			}
			if qe.Message != tt.want {
				t.Errorf("message = %q, want %q", qe.Message, tt.want)
			}
			if qe.Status != 400 {
				t.Errorf("status = %d, want 400", qe.Status)
			}
		})
	}
}

func TestRunTransportErrorPropagates(t *testing.T) {
	boom := errors.New("dial tcp: refused")
	fwd := &stubForwarder{responses: []stubResponse{{err: boom}}}
	_, err := NewService(fwd, "").Run(context.Background(), "SELECT Id FROM Voucher")
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestFirst(t *testing.T) {
	type rec struct{ Id string }

	empty := &stubForwarder{}
	got, err := First[rec](context.Background(), NewService(empty, ""), "SELECT Id FROM LoyaltyMemberTier")
	if err != nil || got != nil {
		t.Fatalf("First on empty = %v, %v; want nil, nil", got, err)
	}

	fwd := &stubForwarder{responses: []stubResponse{{status: 200, payload: `{"done":true,"records":[{"Id":"x"},{"Id":"y"}]}`}}}
	got, err = First[rec](context.Background(), NewService(fwd, ""), "SELECT Id FROM LoyaltyMemberTier")
	if err != nil || got == nil || got.Id != "x" {
		t.Fatalf("First = %v, %v; want x", got, err)
	}
}

func TestPostCommandError(t *testing.T) {
	fwd := &stubForwarder{responses: []stubResponse{{status: 400, payload: `[{"message":"Member is already enrolled"}]`}}}
	svc := NewService(fwd, "")

	_, err := svc.Post(context.Background(), "connect/loyalty/programs/Rewards/program-processes/Enroll", map[string]string{"a": "b"})
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %v, want CommandError", err)
	}
	if ce.Error() != "Member is already enrolled" {
		t.Errorf("message = %q", ce.Error())
	}
	if fwd.calls[0].path != "/services/data/v65.0/connect/loyalty/programs/Rewards/program-processes/Enroll" {
		t.Errorf("path = %q", fwd.calls[0].path)
	}
	if string(fwd.calls[0].body) != `{"a":"b"}` {
		t.Errorf("body = %s", fwd.calls[0].body)
	}
}

func TestDelete(t *testing.T) {
	fwd := &stubForwarder{responses: []stubResponse{{status: http.StatusNoContent}}}
	if err := NewService(fwd, "").Delete(context.Background(), "/sobjects/LoyaltyProgramMbrPromotion/0lp1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fwd.calls[0].method != http.MethodDelete || fwd.calls[0].path != "/services/data/v65.0/sobjects/LoyaltyProgramMbrPromotion/0lp1" {
		t.Errorf("call = %+v", fwd.calls[0])
	}

	fwd = &stubForwarder{responses: []stubResponse{{status: 404, payload: `[{"message":"entity is deleted"}]`}}}
	err := NewService(fwd, "").Delete(context.Background(), "sobjects/LoyaltyProgramMbrPromotion/0lp1")
	var ce *CommandError
	if !errors.As(err, &ce) || ce.Status != 404 {
		t.Fatalf("err = %v, want 404 CommandError", err)
	}
}

func TestQuote(t *testing.T) {
	tests := []struct{ in, want string }{
		{"A-100", `'A-100'`},
		{"O'Brien", `'O\'Brien'`},
		{`a\b`, `'a\\b'`},
	}
	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
	if got := QuoteList([]string{"a", "b"}); got != `('a','b')` {
		t.Errorf("QuoteList = %s", got)
	}
}
