package query

import (
	"context"
	"errors"
	"testing"
)

type fakeQuerier struct {
	kinds   []Kind
	queryFn func(ctx context.Context, kind Kind, host string, port int) (*Response, error)
	calls   int
}

func (f *fakeQuerier) Name() string        { return "fake" }
func (f *fakeQuerier) Kinds() []Kind       { return f.kinds }
func (f *fakeQuerier) Description() string { return "fake querier" }

func (f *fakeQuerier) Query(ctx context.Context, kind Kind, host string, port int) (*Response, error) {
	f.calls++
	return f.queryFn(ctx, kind, host, port)
}

func newTestService(q Querier) *Service {
	reg := NewRegistry()
	reg.Register(q)
	svc := NewService(reg, 0, nil)
	svc.backoff = 0
	return svc
}

func TestService_retriesUntilSuccess(t *testing.T) {
	q := &fakeQuerier{kinds: []Kind{"csgo"}}
	q.queryFn = func(ctx context.Context, kind Kind, host string, port int) (*Response, error) {
		if q.calls < 3 {
			return nil, errors.New("timeout")
		}
		return &Response{Name: "ok", Map: "de_dust2"}, nil
	}

	resp, err := newTestService(q).Query(context.Background(), "csgo", "127.0.0.1", 27015, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Map != "de_dust2" || q.calls != 3 {
		t.Fatalf("resp=%+v calls=%d", resp, q.calls)
	}
}

func TestService_exhaustedAfterBudget(t *testing.T) {
	q := &fakeQuerier{kinds: []Kind{"csgo"}}
	q.queryFn = func(ctx context.Context, kind Kind, host string, port int) (*Response, error) {
		return nil, errors.New("unreachable")
	}

	_, err := newTestService(q).Query(context.Background(), "csgo", "127.0.0.1", 0, 3)
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("expected ErrExhausted, got %v", err)
	}
	if q.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", q.calls)
	}
}

func TestService_unknownKind(t *testing.T) {
	q := &fakeQuerier{kinds: []Kind{"csgo"}}
	_, err := newTestService(q).Query(context.Background(), "minecraft", "127.0.0.1", 0, 3)
	if !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if errors.Is(err, ErrExhausted) {
		t.Fatal("unknown kind must not look like an offline server")
	}
}

func TestRegistry_list(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewA2S("tf2", "csgo"))

	infos := reg.List()
	if len(infos) != 2 || infos[0].Kind != "csgo" || infos[1].Kind != "tf2" {
		t.Fatalf("unexpected list: %+v", infos)
	}
	if infos[0].Protocol != "Source A2S" {
		t.Fatalf("unexpected protocol name %q", infos[0].Protocol)
	}
}
