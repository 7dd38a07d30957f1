package otp

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-trustgate/internal/application/ratelimit"
	"github.com/go-trustgate/internal/application/twofa"
	"github.com/go-trustgate/internal/domain"
	"github.com/go-trustgate/internal/infrastructure/memory"
	"github.com/go-trustgate/internal/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

// --- fakes ---

type mockDispatcher struct{ mock.Mock }

func (m *mockDispatcher) Send(ctx context.Context, msg domain.Message) error {
	return m.Called(ctx, msg).Error(0)
}

// recordingDispatcher keeps every delivered message.
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []domain.Message
}

func (d *recordingDispatcher) Send(_ context.Context, msg domain.Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, msg)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func (d *recordingDispatcher) lastCode(t *testing.T) string {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.sent)
	code := codePattern.FindString(d.sent[len(d.sent)-1].Text)
	require.NotEmpty(t, code)
	return code
}

// countingStore counts challenges written per key.
type countingStore struct {
	*memory.ChallengeStore
	mu   sync.Mutex
	puts map[string]int
}

func (s *countingStore) Put(ctx context.Context, c *domain.OTPChallenge) error {
	if err := s.ChallengeStore.Put(ctx, c); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts[c.Key]++
	return nil
}

func (s *countingStore) issued(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.puts[key]
}

// --- builder ---

type fixture struct {
	svc        Service
	clk        *clock.Manual
	challenges *countingStore
	markers    *twofa.MarkerStore
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewManual(epoch)
	f := &fixture{
		clk:        clk,
		challenges: &countingStore{ChallengeStore: memory.NewChallengeStore(clk), puts: map[string]int{}},
		markers:    twofa.NewMarkerStore(nil, memory.NewMarkerTable(clk)),
		dispatcher: &recordingDispatcher{},
	}
	f.svc = newService(f, f.dispatcher)
	return f
}

func newService(f *fixture, d Dispatcher) Service {
	return NewService(ServiceDeps{
		Challenges: f.challenges,
		Markers:    f.markers,
		Limiter:    ratelimit.New(nil, memory.NewCounterTable(f.clk)),
		Dispatcher: d,
		Clock:      f.clk,
		Config: Config{
			TTL:             10 * time.Minute,
			ReuseWindow:     60 * time.Second,
			BcryptCost:      bcrypt.MinCost,
			DispatchBackoff: time.Millisecond,
		},
	})
}

func (f *fixture) issue(t *testing.T, email string, purpose domain.Purpose) string {
	t.Helper()
	res, err := f.svc.CreateAndSend(context.Background(), CreateParams{Email: email, Purpose: purpose})
	require.NoError(t, err)
	require.True(t, res.Sent)
	return f.dispatcher.lastCode(t)
}

// --- CreateAndSend ---

func TestCreateAndSend_LoginWithoutMarker(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateAndSend(context.Background(), CreateParams{Email: "a@example.com", Purpose: domain.PurposeLogin})

	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Zero(t, f.dispatcher.count())
	assert.Zero(t, f.challenges.issued(domain.ChallengeKey("a@example.com", domain.PurposeLogin)))
}

func TestCreateAndSend_VerifyPurposeNeedsNoMarker(t *testing.T) {
	f := newFixture(t)

	f.issue(t, "a@example.com", domain.PurposeVerify)

	assert.Equal(t, 1, f.dispatcher.count())
	assert.Equal(t, "Verify your email address", f.dispatcher.sent[0].Subject)
}

func TestCreateAndSend_StoresHashNotPlaintext(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, " A@Example.com ", domain.PurposeReset)

	c, err := f.challenges.Latest(context.Background(), domain.ChallengeKey("a@example.com", domain.PurposeReset))
	require.NoError(t, err)
	assert.NotContains(t, c.CodeHash, code)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)))
	assert.Equal(t, "a@example.com", c.Email)
	assert.Zero(t, c.Attempts)
	assert.True(t, c.Dispatched)
	assert.Equal(t, epoch.Add(10*time.Minute), c.ExpiresAt)
	assert.Equal(t, epoch.Add(10*time.Minute).Unix(), c.ExpiresAtUnix)
	assert.Equal(t, "a@example.com", f.dispatcher.sent[0].To)
}

func TestCreateAndSend_ReuseWindowCollapses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.markers.SetMarker(ctx, "a@example.com", time.Hour)

	f.issue(t, "a@example.com", domain.PurposeLogin)
	f.clk.Advance(59 * time.Second)
	res, err := f.svc.CreateAndSend(ctx, CreateParams{Email: "a@example.com", Purpose: domain.PurposeLogin})

	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, 1, f.challenges.issued(domain.ChallengeKey("a@example.com", domain.PurposeLogin)))
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestCreateAndSend_ZeroReuseWindowUsesServiceDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := CreateParams{Email: "a@example.com", Purpose: domain.PurposeVerify}

	_, err := f.svc.CreateAndSend(ctx, params)
	require.NoError(t, err)
	res, err := f.svc.CreateAndSend(ctx, params)

	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, 1, f.dispatcher.count())
	assert.Equal(t, 1, f.challenges.issued(domain.ChallengeKey("a@example.com", domain.PurposeVerify)))
}

func TestCreateAndSend_NegativeReuseWindowAlwaysIssues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	params := CreateParams{Email: "a@example.com", Purpose: domain.PurposeVerify, ReuseWindow: -1}

	_, err := f.svc.CreateAndSend(ctx, params)
	require.NoError(t, err)
	_, err = f.svc.CreateAndSend(ctx, params)
	require.NoError(t, err)

	assert.Equal(t, 2, f.dispatcher.count())
}

func TestCreateAndSend_AfterWindowSupersedes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.issue(t, "a@example.com", domain.PurposeVerify)
	f.clk.Advance(61 * time.Second)
	second := f.issue(t, "a@example.com", domain.PurposeVerify)

	assert.Equal(t, 2, f.challenges.issued(domain.ChallengeKey("a@example.com", domain.PurposeVerify)))
	assert.Equal(t, 2, f.dispatcher.count())

	if first != second {
		ok, err := f.svc.Verify(ctx, "a@example.com", first, domain.PurposeVerify)
		require.NoError(t, err)
		assert.False(t, ok, "superseded code must not verify")
	}
	ok, err := f.svc.Verify(ctx, "a@example.com", second, domain.PurposeVerify)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCreateAndSend_ConsumedChallengeDoesNotCollapse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	code := f.issue(t, "a@example.com", domain.PurposeVerify)
	ok, err := f.svc.Verify(ctx, "a@example.com", code, domain.PurposeVerify)
	require.NoError(t, err)
	require.True(t, ok)

	f.issue(t, "a@example.com", domain.PurposeVerify)
	assert.Equal(t, 2, f.dispatcher.count())
}

func TestCreateAndSend_DispatchFailureRetriesThenKeepsChallenge(t *testing.T) {
	f := newFixture(t)
	d := &mockDispatcher{}
	d.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down")).Times(3)
	svc := newService(f, d)
	ctx := context.Background()

	res, err := svc.CreateAndSend(ctx, CreateParams{Email: "a@example.com", Purpose: domain.PurposeReset})

	require.ErrorIs(t, err, domain.ErrTransportUnavailable)
	assert.False(t, res.Sent)
	d.AssertNumberOfCalls(t, "Send", 3)

	key := domain.ChallengeKey("a@example.com", domain.PurposeReset)
	c, err := f.challenges.Latest(ctx, key)
	require.NoError(t, err)
	assert.True(t, c.Active(f.clk.Now()))
	assert.False(t, c.Dispatched)

	// An undelivered challenge does not swallow the next request.
	d.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	res, err = svc.CreateAndSend(ctx, CreateParams{Email: "a@example.com", Purpose: domain.PurposeReset})
	require.NoError(t, err)
	assert.True(t, res.Sent)
	assert.Equal(t, 2, f.challenges.issued(key))
}

func TestCreateAndSend_DispatchRecoversOnRetry(t *testing.T) {
	f := newFixture(t)
	d := &mockDispatcher{}
	d.On("Send", mock.Anything, mock.Anything).Return(errors.New("timeout")).Once()
	d.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	svc := newService(f, d)

	res, err := svc.CreateAndSend(context.Background(), CreateParams{Email: "a@example.com", Purpose: domain.PurposeVerify})

	require.NoError(t, err)
	assert.True(t, res.Sent)
	d.AssertNumberOfCalls(t, "Send", 2)
	sent := d.Calls[0].Arguments.Get(1).(domain.Message)
	resent := d.Calls[1].Arguments.Get(1).(domain.Message)
	assert.Equal(t, sent.Text, resent.Text, "retries carry the same code")
}

func TestCreateAndSend_ConcurrentRequestsDispatchOnce(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = f.svc.CreateAndSend(context.Background(), CreateParams{Email: "a@example.com", Purpose: domain.PurposeVerify})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.dispatcher.count())
	assert.Equal(t, 1, f.challenges.issued(domain.ChallengeKey("a@example.com", domain.PurposeVerify)))
}

// --- Verify ---

func TestVerify_ExactlyOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.issue(t, "a@example.com", domain.PurposeVerify)

	ok, err := f.svc.Verify(ctx, "a@example.com", code, domain.PurposeVerify)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.svc.Verify(ctx, "a@example.com", code, domain.PurposeVerify)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_ConcurrentCorrectCodeSucceedsOnce(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, "a@example.com", domain.PurposeVerify)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := f.svc.Verify(context.Background(), "a@example.com", code, domain.PurposeVerify); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestVerify_AttemptsBounded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	code := f.issue(t, "a@example.com", domain.PurposeVerify)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < MaxAttempts; i++ {
		ok, err := f.svc.Verify(ctx, "a@example.com", wrong, domain.PurposeVerify)
		require.NoError(t, err)
		require.False(t, ok)
	}

	ok, err := f.svc.Verify(ctx, "a@example.com", code, domain.PurposeVerify)
	require.NoError(t, err)
	assert.False(t, ok)

	c, err := f.challenges.Latest(ctx, domain.ChallengeKey("a@example.com", domain.PurposeVerify))
	require.NoError(t, err)
	assert.Equal(t, MaxAttempts, c.Attempts)
	assert.Nil(t, c.ConsumedAt)
}

func TestVerify_Expired(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, "a@example.com", domain.PurposeVerify)

	f.clk.Advance(10 * time.Minute)
	ok, err := f.svc.Verify(context.Background(), "a@example.com", code, domain.PurposeVerify)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_NoChallenge(t *testing.T) {
	f := newFixture(t)

	ok, err := f.svc.Verify(context.Background(), "nobody@example.com", "123456", domain.PurposeLogin)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_PurposesAreIsolated(t *testing.T) {
	f := newFixture(t)
	code := f.issue(t, "a@example.com", domain.PurposeVerify)

	ok, err := f.svc.Verify(context.Background(), "a@example.com", code, domain.PurposeReset)

	require.NoError(t, err)
	assert.False(t, ok)
}

// --- boundary ---

func TestVerifyCode_ClearsMarkerOnLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.markers.SetMarker(ctx, "a@example.com", time.Hour)
	code := f.issue(t, "a@example.com", domain.PurposeLogin)

	err := f.svc.VerifyCode(ctx, VerifyCodeInput{Email: "A@example.com", Code: " " + code[:3] + "-" + code[3:], Purpose: "login"})

	require.NoError(t, err)
	assert.False(t, f.markers.HasMarker(ctx, "a@example.com"))
}

func TestVerifyCode_InvalidIsGeneric(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.markers.SetMarker(ctx, "a@example.com", time.Hour)
	code := f.issue(t, "a@example.com", domain.PurposeLogin)
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	errWrong := f.svc.VerifyCode(ctx, VerifyCodeInput{Email: "a@example.com", Code: wrong})
	errMissing := f.svc.VerifyCode(ctx, VerifyCodeInput{Email: "b@example.com", Code: wrong})

	assert.Equal(t, domain.ErrInvalidCode, errWrong)
	assert.Equal(t, domain.ErrInvalidCode, errMissing)
	assert.True(t, f.markers.HasMarker(ctx, "a@example.com"))
}

func TestRequestCode_MissingEmail(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestCode(context.Background(), RequestCodeInput{Email: "  "})

	require.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestRequestCode_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	req := RequestCodeInput{Email: "a@example.com", Purpose: "login", IP: "203.0.113.7"}

	_, err := f.svc.RequestCode(ctx, req)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	f.markers.SetMarker(ctx, "a@example.com", 600*time.Second)
	res, err := f.svc.RequestCode(ctx, req)
	require.NoError(t, err)
	assert.True(t, res.Sent)

	for i := 0; i < 3; i++ {
		f.clk.Advance(5 * time.Second)
		res, err = f.svc.RequestCode(ctx, req)
		require.NoError(t, err)
		assert.True(t, res.Sent)
	}

	f.clk.Advance(5 * time.Second)
	_, err = f.svc.RequestCode(ctx, req)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	assert.True(t, f.markers.HasMarker(ctx, "a@example.com"))
	assert.Equal(t, 1, f.dispatcher.count())
}

func TestRequestCode_UnknownPurposeDefaultsToLogin(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RequestCode(context.Background(), RequestCodeInput{Email: "a@example.com", Purpose: "bogus"})

	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

// --- RenderMessage ---

func TestRenderMessage_PerPurpose(t *testing.T) {
	login := RenderMessage("a@example.com", "123456", domain.PurposeLogin, 10*time.Minute)
	reset := RenderMessage("a@example.com", "123456", domain.PurposeReset, 10*time.Minute)

	assert.Equal(t, "Your sign-in code", login.Subject)
	assert.Equal(t, "Reset your password", reset.Subject)
	assert.Contains(t, login.Text, "123456")
	assert.Contains(t, login.HTML, "123456")
	assert.Contains(t, login.Text, "10 minutes")
}
