package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/joseph-ayodele/permit-intake/constants"
	"github.com/joseph-ayodele/permit-intake/internal/common"
	"github.com/joseph-ayodele/permit-intake/internal/schema"
)

type recordingBackend struct {
	calls   int
	prompts []string
	reply   string
	err     error
}

func (r *recordingBackend) Complete(_ context.Context, prompt string) (string, error) {
	r.calls++
	r.prompts = append(r.prompts, prompt)
	return r.reply, r.err
}

func TestInvoke_EmptyInputMakesNoCall(t *testing.T) {
	for _, body := range []string{"", "   ", "\n\t"} {
		b := &recordingBackend{reply: "{}"}
		inv := NewInvoker(b, schema.Current(), InvokerConfig{}, nil)

		_, err := inv.Invoke(context.Background(), body)
		if !errors.Is(err, common.ErrInputEmpty) {
			t.Errorf("Invoke(%q) error = %v, want ErrInputEmpty", body, err)
		}
		if common.CodeOf(err) != common.CodeInputEmpty {
			t.Errorf("CodeOf = %q, want %q", common.CodeOf(err), common.CodeInputEmpty)
		}
		if b.calls != 0 {
			t.Errorf("backend called %d times for empty input", b.calls)
		}
	}
}

func TestInvoke_ReturnsBackendTextUnmodified(t *testing.T) {
	reply := "  ```json\n{\"Reg No\": null}\n```  "
	b := &recordingBackend{reply: reply}
	inv := NewInvoker(b, schema.Current(), InvokerConfig{Timeout: time.Second}, nil)

	got, err := inv.Invoke(context.Background(), "  Please arrange OVF for Jordan  ")
	if err != nil {
		t.Fatalf("Invoke error: %v", err)
	}
	if got != reply {
		t.Errorf("Invoke = %q, want %q", got, reply)
	}
	if b.calls != 1 {
		t.Fatalf("backend calls = %d, want 1", b.calls)
	}
	p := b.prompts[0]
	if strings.Contains(p, ContentPlaceholder) {
		t.Error("placeholder left in prompt")
	}
	if !strings.Contains(p, "START --------------------\nPlease arrange OVF for Jordan\n---") {
		t.Error("prompt does not carry the trimmed body between the content markers")
	}
}

func TestInvoke_BackendFailure(t *testing.T) {
	b := &recordingBackend{err: errors.New("401 unauthorized")}
	inv := NewInvoker(b, nil, InvokerConfig{}, nil)

	var observed error
	inv.OnCall(func(_ time.Duration, err error) { observed = err })

	_, err := inv.Invoke(context.Background(), "body")
	if !errors.Is(err, common.ErrBackend) {
		t.Errorf("error = %v, want ErrBackend", err)
	}
	if common.IsPermanent(err) {
		t.Error("backend failures must be retryable")
	}
	if observed == nil {
		t.Error("OnCall hook did not see the failure")
	}
	if b.calls != 1 {
		t.Errorf("backend calls = %d, want exactly 1 (no retries)", b.calls)
	}
}

func TestInvoke_RejectedRequestStaysPermanent(t *testing.T) {
	b := &recordingBackend{err: common.BackendRejected(errors.New("400 context_length_exceeded"))}
	inv := NewInvoker(b, nil, InvokerConfig{}, nil)

	_, err := inv.Invoke(context.Background(), "body")
	if got := common.CodeOf(err); got != common.CodeBackendRejected {
		t.Errorf("code = %q, want %q", got, common.CodeBackendRejected)
	}
	if !common.IsPermanent(err) {
		t.Error("rejected requests must not be retried")
	}
}

func TestInvoke_TimeoutReachesBackend(t *testing.T) {
	inv := NewInvoker(BackendFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}), nil, InvokerConfig{Timeout: 10 * time.Millisecond}, nil)

	_, err := inv.Invoke(context.Background(), "body")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
}

func TestBuildPromptTemplate(t *testing.T) {
	tpl := BuildPromptTemplate(schema.Current())
	if strings.Count(tpl, ContentPlaceholder) != 1 {
		t.Fatalf("template must contain the placeholder exactly once")
	}
	for _, k := range schema.Current().Keys() {
		if !strings.Contains(tpl, "\""+k+"\"") {
			t.Errorf("template does not mention %q", k)
		}
	}
	for _, p := range constants.PermitTypes() {
		if !strings.Contains(tpl, "\""+string(p)+"\"") {
			t.Errorf("template does not list permit type %q", p)
		}
	}
}
