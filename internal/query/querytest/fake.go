// Package querytest provides an in-memory query.Client for tests. Queries
// are answered by the first registered rule whose fragments all appear in
// the SOQL text.
package querytest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

type rule struct {
	fragments []string
	records   []json.RawMessage
	err       error
}

func (r rule) matches(s string) bool {
	for _, f := range r.fragments {
		if !strings.Contains(s, f) {
			return false
		}
	}
	return true
}

// PostCall records one command.
type PostCall struct {
	Path string
	Body json.RawMessage
}

// Fake implements query.Client.
type Fake struct {
	mu        sync.Mutex
	queries   []rule
	posts     []rule
	deletes   []rule
	Queries   []string
	Posts     []PostCall
	Deletes   []string
	OnRunHook func(soql string)
}

func New() *Fake {
	return &Fake{}
}

func encode(records []any) []json.RawMessage {
	out := make([]json.RawMessage, 0, len(records))
	for _, r := range records {
		b, err := json.Marshal(r)
		if err != nil {
			panic(err)
		}
		out = append(out, b)
	}
	return out
}

// OnQuery answers queries containing every fragment with records.
func (f *Fake) OnQuery(fragments []string, records ...any) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, rule{fragments: fragments, records: encode(records)})
	return f
}

// FailQuery makes queries containing every fragment fail with err.
func (f *Fake) FailQuery(err error, fragments ...string) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, rule{fragments: fragments, err: err})
	return f
}

// OnPost answers commands whose path contains fragment.
func (f *Fake) OnPost(fragment string, response any, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := rule{fragments: []string{fragment}, err: err}
	if response != nil {
		r.records = encode([]any{response})
	}
	f.posts = append(f.posts, r)
	return f
}

// FailDelete makes deletes whose path contains fragment fail with err.
func (f *Fake) FailDelete(fragment string, err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, rule{fragments: []string{fragment}, err: err})
	return f
}

func (f *Fake) Run(ctx context.Context, soql string) ([]json.RawMessage, error) {
	f.mu.Lock()
	f.Queries = append(f.Queries, soql)
	hook := f.OnRunHook
	var match *rule
	for i := range f.queries {
		if f.queries[i].matches(soql) {
			match = &f.queries[i]
			break
		}
	}
	f.mu.Unlock()

	if hook != nil {
		hook(soql)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if match == nil {
		return nil, nil
	}
	if match.err != nil {
		return nil, match.err
	}
	return match.records, nil
}

func (f *Fake) Post(ctx context.Context, path string, body any) (json.RawMessage, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Posts = append(f.Posts, PostCall{Path: path, Body: raw})
	for _, r := range f.posts {
		if r.matches(path) {
			if r.err != nil {
				return nil, r.err
			}
			if len(r.records) > 0 {
				return r.records[0], nil
			}
			return json.RawMessage(`{}`), nil
		}
	}
	return json.RawMessage(`{}`), nil
}

func (f *Fake) Delete(ctx context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Deletes = append(f.Deletes, path)
	for _, r := range f.deletes {
		if r.matches(path) {
			return r.err
		}
	}
	return nil
}

// Count returns how many queries contained every fragment.
func (f *Fake) Count(fragments ...string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := rule{fragments: fragments}
	n := 0
	for _, q := range f.Queries {
		if r.matches(q) {
			n++
		}
	}
	return n
}

// Reset clears the call log, keeping rules.
func (f *Fake) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Queries = nil
	f.Posts = nil
	f.Deletes = nil
}
