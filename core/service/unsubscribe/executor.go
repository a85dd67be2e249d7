package unsubscribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"mailsweep/core/domain"
	"mailsweep/core/port/out"
	"mailsweep/pkg/logger"
)

// oneClickBody is the POST body required by RFC 8058.
const oneClickBody = "List-Unsubscribe=One-Click"

// Failure reasons recorded on the subscription when an attempt fails.
const (
	ReasonTimeout      = "timeout"
	ReasonNetworkError = "network_error"
	ReasonCircuitOpen  = "circuit_open"
	ReasonBadURL       = "bad_url"
	ReasonNoMethod     = "no_method"
	ReasonProviderFail = "provider_error"
)

// HTTPDoer issues outbound unsubscribe requests.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Executor performs a resolved unsubscribe method. HTTP methods go through a
// per-host circuit breaker; mailto and filter methods go through the mail
// provider.
type Executor struct {
	client  HTTPDoer
	mail    out.MailActionPort
	timeout time.Duration
	log     *logger.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewExecutor(client HTTPDoer, mail out.MailActionPort, timeout time.Duration, log *logger.Logger) *Executor {
	return &Executor{
		client:   client,
		mail:     mail,
		timeout:  timeout,
		log:      log,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// Execute runs one unsubscribe method. A nil return means the remote side
// accepted the request; errors carry a machine-readable failure reason.
func (e *Executor) Execute(ctx context.Context, userID uuid.UUID, senderAddress string, method domain.UnsubscribeMethod) error {
	switch method.Kind {
	case domain.MethodHeader:
		return e.executeHTTP(ctx, method.URL, http.MethodPost)
	case domain.MethodLink:
		return e.executeHTTP(ctx, method.URL, http.MethodGet)
	case domain.MethodMailto:
		if err := e.mail.SendUnsubscribeMail(ctx, userID, method.Address, method.Subject); err != nil {
			return errWithReason(ReasonProviderFail, err)
		}
		return nil
	case domain.MethodFilter:
		filterID, err := e.mail.CreateSenderFilter(ctx, userID, senderAddress)
		if err != nil {
			return errWithReason(ReasonProviderFail, err)
		}
		e.log.WithFields(map[string]any{
			"sender":    senderAddress,
			"filter_id": filterID,
		}).Info("sender filter created")
		return nil
	default:
		return errWithReason(ReasonNoMethod, fmt.Errorf("no unsubscribe method available"))
	}
}

func (e *Executor) executeHTTP(ctx context.Context, rawURL, httpMethod string) error {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errWithReason(ReasonBadURL, fmt.Errorf("invalid unsubscribe url %q", rawURL))
	}

	cb := e.breakerFor(u.Host)
	_, cbErr := cb.Execute(func() (interface{}, error) {
		return nil, e.doRequest(ctx, rawURL, httpMethod)
	})
	if cbErr == nil {
		return nil
	}
	if errors.Is(cbErr, gobreaker.ErrOpenState) || errors.Is(cbErr, gobreaker.ErrTooManyRequests) {
		return errWithReason(ReasonCircuitOpen, cbErr)
	}
	return cbErr
}

func (e *Executor) doRequest(ctx context.Context, rawURL, httpMethod string) error {
	reqCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var body *strings.Reader
	if httpMethod == http.MethodPost {
		body = strings.NewReader(oneClickBody)
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(reqCtx, httpMethod, rawURL, body)
	if err != nil {
		return errWithReason(ReasonBadURL, err)
	}
	if httpMethod == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("User-Agent", "mailsweep/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return errWithReason(ReasonTimeout, err)
		}
		return errWithReason(ReasonNetworkError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errWithReason(fmt.Sprintf("http_status:%d", resp.StatusCode),
		fmt.Errorf("unsubscribe endpoint returned %s", resp.Status))
}

func (e *Executor) breakerFor(host string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()

	if cb, ok := e.breakers[host]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        host,
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.log.WithFields(map[string]any{
				"host": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("unsubscribe circuit state changed")
		},
	})
	e.breakers[host] = cb
	return cb
}

// reasonError tags an error with a machine-readable failure reason.
type reasonError struct {
	reason string
	err    error
}

func (e *reasonError) Error() string {
	if e.err == nil {
		return e.reason
	}
	return fmt.Sprintf("%s: %v", e.reason, e.err)
}

func (e *reasonError) Unwrap() error { return e.err }

func errWithReason(reason string, err error) error {
	return &reasonError{reason: reason, err: err}
}

// FailureReason extracts the recorded reason from an executor error, or a
// generic label when the error carries none.
func FailureReason(err error) string {
	var re *reasonError
	if errors.As(err, &re) {
		return re.reason
	}
	return "error"
}
