package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"

	"github.com/openclass/quiz-session-service/internal/cache"
	"github.com/openclass/quiz-session-service/internal/events"
	"github.com/openclass/quiz-session-service/internal/models"
	"github.com/openclass/quiz-session-service/internal/repositories"
	"github.com/openclass/quiz-session-service/internal/ticket"
	"github.com/openclass/quiz-session-service/internal/validator"
)

// ===== FAKE REPOSITORIES =====

type fakeQuizRepo struct {
	quizzes map[uint]*models.Quiz
}

func (r *fakeQuizRepo) GetByID(ctx context.Context, id uint) (*models.Quiz, error) {
	quiz, ok := r.quizzes[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return quiz, nil
}

func (r *fakeQuizRepo) GetByIDWithDetails(ctx context.Context, id uint) (*models.Quiz, error) {
	return r.GetByID(ctx, id)
}

type fakeAttemptRepo struct {
	attempts  []*models.Attempt
	answers   []*models.AttemptAnswer
	nextID    uint
	createErr error
}

func (r *fakeAttemptRepo) Create(ctx context.Context, attempt *models.Attempt) error {
	if r.createErr != nil {
		return r.createErr
	}
	r.nextID++
	attempt.ID = r.nextID
	attempt.CreatedAt = time.Now()
	r.attempts = append(r.attempts, attempt)
	return nil
}

func (r *fakeAttemptRepo) CreateAnswersBatch(ctx context.Context, answers []*models.AttemptAnswer) error {
	r.answers = append(r.answers, answers...)
	return nil
}

func (r *fakeAttemptRepo) GetByID(ctx context.Context, id uint) (*models.Attempt, error) {
	for _, attempt := range r.attempts {
		if attempt.ID == id {
			return attempt, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *fakeAttemptRepo) GetByUser(ctx context.Context, userID string, filters repositories.AttemptFilters) ([]*models.Attempt, int64, error) {
	matching := make([]*models.Attempt, 0)
	for _, attempt := range r.attempts {
		if attempt.UserID != userID {
			continue
		}
		if filters.QuizID != nil && attempt.QuizID != *filters.QuizID {
			continue
		}
		matching = append(matching, attempt)
	}
	total := int64(len(matching))
	if filters.Offset > 0 {
		if filters.Offset >= len(matching) {
			return nil, total, nil
		}
		matching = matching[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(matching) {
		matching = matching[:filters.Limit]
	}
	return matching, total, nil
}

type fakeUserRepo struct {
	users map[string]*models.User
}

func (r *fakeUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	user, ok := r.users[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return user, nil
}

func (r *fakeUserRepo) IncrementReward(ctx context.Context, id string, delta int) error {
	user, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	user.RewardPoints += delta
	return nil
}

type fakeRepo struct {
	quiz    *fakeQuizRepo
	attempt *fakeAttemptRepo
	user    *fakeUserRepo

	committed  int
	rolledBack int
}

func (r *fakeRepo) Quiz() repositories.QuizRepository       { return r.quiz }
func (r *fakeRepo) Attempt() repositories.AttemptRepository { return r.attempt }
func (r *fakeRepo) User() repositories.UserRepository       { return r.user }

func (r *fakeRepo) Begin(ctx context.Context) (repositories.Repository, error) { return r, nil }
func (r *fakeRepo) Commit(ctx context.Context) error                           { r.committed++; return nil }
func (r *fakeRepo) Rollback(ctx context.Context) error                         { r.rolledBack++; return nil }

// ===== FIXTURE =====

type serviceFixture struct {
	service   SessionService
	repo      *fakeRepo
	signer    *ticket.Signer
	publisher *events.MockEventPublisher
	redis     *miniredis.Miniredis
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := &fakeRepo{
		quiz:    &fakeQuizRepo{quizzes: make(map[uint]*models.Quiz)},
		attempt: &fakeAttemptRepo{},
		user:    &fakeUserRepo{users: make(map[string]*models.User)},
	}
	repo.user.users["user-1"] = &models.User{ID: "user-1", Role: models.RoleStudent, Language: "en"}
	repo.user.users["staff-1"] = &models.User{ID: "staff-1", Role: models.RoleStaff, Language: "en"}
	repo.quiz.quizzes[1] = publishedQuiz()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	signer := ticket.NewSigner([]byte("test-secret"), 30*time.Second)
	publisher := events.NewMockEventPublisher(logger)

	service := NewSessionService(
		repo,
		signer,
		cache.NewAnswerKeyCache(client, repo.quiz, 10*time.Minute),
		cache.NewReplayGuard(client),
		publisher,
		NewScoringEngine(0.70, 10),
		logger,
		validator.New(),
		"en",
	)

	return &serviceFixture{
		service:   service,
		repo:      repo,
		signer:    signer,
		publisher: publisher,
		redis:     mr,
	}
}

// publishedQuiz has three questions; correct options are 11, 22 and 33.
func publishedQuiz() *models.Quiz {
	return &models.Quiz{
		ID:       1,
		Title:    models.TextMap{"en": "Go Basics", "vi": "Go Cơ Bản"},
		Duration: 300,
		Status:   models.QuizPublished,
		Questions: []models.Question{
			{
				ID: 101, QuizID: 1, Position: 1,
				Text:        models.TextMap{"en": "Question one"},
				Explanation: models.TextMap{"en": "Explanation one"},
				Options: []models.Option{
					{ID: 11, QuestionID: 101, Text: models.TextMap{"en": "A"}, Correct: true},
					{ID: 12, QuestionID: 101, Text: models.TextMap{"en": "B"}},
				},
			},
			{
				ID: 102, QuizID: 1, Position: 2,
				Text:        models.TextMap{"en": "Question two"},
				Explanation: models.TextMap{"en": "Explanation two"},
				Options: []models.Option{
					{ID: 21, QuestionID: 102, Text: models.TextMap{"en": "A"}},
					{ID: 22, QuestionID: 102, Text: models.TextMap{"en": "B"}, Correct: true},
				},
			},
			{
				ID: 103, QuizID: 1, Position: 3,
				Text:        models.TextMap{"en": "Question three"},
				Explanation: models.TextMap{"en": "Explanation three"},
				Options: []models.Option{
					{ID: 31, QuestionID: 103, Text: models.TextMap{"en": "A"}},
					{ID: 32, QuestionID: 103, Text: models.TextMap{"en": "B"}},
					{ID: 33, QuestionID: 103, Text: models.TextMap{"en": "C"}, Correct: true},
				},
			},
		},
	}
}

// ===== ISSUE =====

func TestSessionService_Issue_ReturnsTicketAndSanitizedQuiz(t *testing.T) {
	fx := newServiceFixture(t)

	resp, err := fx.service.Issue(context.Background(), &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	assert.NotEmpty(t, resp.Ticket)
	assert.True(t, resp.ExpiresAt.After(time.Now().Add(300*time.Second)))

	assert.Equal(t, "Go Basics", resp.Quiz.Title)
	assert.Equal(t, 300, resp.Quiz.DurationSeconds)
	require.Len(t, resp.Quiz.Questions, 3)
	assert.Equal(t, "Question one", resp.Quiz.Questions[0].Text)
	assert.Len(t, resp.Quiz.Questions[0].Options, 2)

	// Issuance leaves no server-side state behind.
	assert.Empty(t, fx.repo.attempt.attempts)
}

func TestSessionService_Issue_LocalizesWithFallback(t *testing.T) {
	fx := newServiceFixture(t)

	resp, err := fx.service.Issue(context.Background(), &IssueSessionRequest{QuizID: 1, Language: "vi"}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, "Go Cơ Bản", resp.Quiz.Title)
	// Questions have no vi text, so they fall back to the default language.
	assert.Equal(t, "Question one", resp.Quiz.Questions[0].Text)
}

func TestSessionService_Issue_QuizNotFound(t *testing.T) {
	fx := newServiceFixture(t)

	_, err := fx.service.Issue(context.Background(), &IssueSessionRequest{QuizID: 999}, "user-1")
	assert.ErrorIs(t, err, ErrQuizNotFound)
}

func TestSessionService_Issue_UnpublishedQuiz(t *testing.T) {
	fx := newServiceFixture(t)
	fx.repo.quiz.quizzes[2] = &models.Quiz{
		ID: 2, Title: models.TextMap{"en": "Draft"}, Duration: 60, Status: models.QuizDraft,
		Questions: []models.Question{{ID: 201, QuizID: 2, Text: models.TextMap{"en": "Q"},
			Options: []models.Option{{ID: 41, QuestionID: 201, Text: models.TextMap{"en": "A"}, Correct: true}}}},
	}

	_, err := fx.service.Issue(context.Background(), &IssueSessionRequest{QuizID: 2}, "user-1")
	assert.ErrorIs(t, err, ErrQuizNotPublished)

	// Staff may preview drafts.
	_, err = fx.service.Issue(context.Background(), &IssueSessionRequest{QuizID: 2}, "staff-1")
	assert.NoError(t, err)
}

func TestSessionService_Issue_EmptyQuiz(t *testing.T) {
	fx := newServiceFixture(t)
	fx.repo.quiz.quizzes[3] = &models.Quiz{
		ID: 3, Title: models.TextMap{"en": "Empty"}, Duration: 60, Status: models.QuizPublished,
	}

	_, err := fx.service.Issue(context.Background(), &IssueSessionRequest{QuizID: 3}, "user-1")
	assert.ErrorIs(t, err, ErrQuizHasNoQuestions)
}

// ===== SUBMIT =====

func TestSessionService_Submit_GradesAndPersistsAtomically(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	resp, err := fx.service.Submit(ctx, &SubmitSessionRequest{
		Ticket: issued.Ticket,
		QuizID: 1,
		Answers: []AnswerSubmission{
			{QuestionID: 101, OptionID: 11},
			{QuestionID: 102, OptionID: 22},
			{QuestionID: 103, OptionID: 31},
		},
	}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 2, resp.Score)
	assert.Equal(t, 3, resp.Total)
	assert.InDelta(t, 2.0/3.0, resp.ScorePercentage, 1e-9)
	assert.False(t, resp.Passed)
	assert.Equal(t, 0, resp.Reward)
	assert.Equal(t, uint(11), resp.CorrectOptions[101])
	assert.Equal(t, "Explanation three", resp.Explanations[103])

	require.Len(t, fx.repo.attempt.attempts, 1)
	attempt := fx.repo.attempt.attempts[0]
	assert.Equal(t, "user-1", attempt.UserID)
	assert.Equal(t, 2, attempt.Score)
	assert.Len(t, fx.repo.attempt.answers, 3)
	assert.Equal(t, 1, fx.repo.committed)
	assert.Equal(t, 0, fx.repo.rolledBack)

	// Failed attempts earn nothing.
	assert.Equal(t, 0, fx.repo.user.users["user-1"].RewardPoints)

	require.Len(t, fx.publisher.GetPublishedEvents(), 1)
	event := fx.publisher.GetPublishedEvents()[0]
	assert.Equal(t, attempt.ID, event.AttemptID)
	assert.Equal(t, 2, event.Score)
}

func TestSessionService_Submit_PassAwardsReward(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	resp, err := fx.service.Submit(ctx, &SubmitSessionRequest{
		Ticket: issued.Ticket,
		QuizID: 1,
		Answers: []AnswerSubmission{
			{QuestionID: 101, OptionID: 11},
			{QuestionID: 102, OptionID: 22},
			{QuestionID: 103, OptionID: 33},
		},
	}, "user-1")
	require.NoError(t, err)

	assert.True(t, resp.Passed)
	assert.Equal(t, 30, resp.Reward)
	assert.Equal(t, 30, fx.repo.user.users["user-1"].RewardPoints)
}

func TestSessionService_Submit_EmptyAnswersStillRecorded(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	resp, err := fx.service.Submit(ctx, &SubmitSessionRequest{
		Ticket: issued.Ticket,
		QuizID: 1,
	}, "user-1")
	require.NoError(t, err)

	assert.Equal(t, 0, resp.Score)
	assert.Equal(t, 3, resp.Total)
	assert.False(t, resp.Passed)
	require.Len(t, fx.repo.attempt.attempts, 1)
	assert.Empty(t, fx.repo.attempt.answers)
}

func TestSessionService_Submit_ExpiredTicketRejected(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	// Mint with a clock far enough in the past that duration plus grace has
	// already elapsed. Same secret, so only the deadline can fail.
	past := time.Now().Add(-time.Hour)
	staleSigner := ticket.NewSignerWithClock([]byte("test-secret"), 30*time.Second, func() time.Time { return past })
	token, _, err := staleSigner.Issue(1, "user-1", 300*time.Second)
	require.NoError(t, err)

	_, err = fx.service.Submit(ctx, &SubmitSessionRequest{
		Ticket: token,
		QuizID: 1,
		Answers: []AnswerSubmission{
			{QuestionID: 101, OptionID: 11},
			{QuestionID: 102, OptionID: 22},
			{QuestionID: 103, OptionID: 33},
		},
	}, "user-1")
	assert.ErrorIs(t, err, ticket.ErrExpired)

	// Correct answers do not matter once the deadline passed.
	assert.Empty(t, fx.repo.attempt.attempts)
	assert.Empty(t, fx.publisher.GetPublishedEvents())
}

func TestSessionService_Submit_WrongUserRejected(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	_, err = fx.service.Submit(ctx, &SubmitSessionRequest{
		Ticket: issued.Ticket,
		QuizID: 1,
	}, "staff-1")
	assert.ErrorIs(t, err, ticket.ErrMismatch)
}

func TestSessionService_Submit_TamperedTicketRejected(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	other := ticket.NewSigner([]byte("other-secret"), 30*time.Second)
	token, _, err := other.Issue(1, "user-1", 300*time.Second)
	require.NoError(t, err)

	_, err = fx.service.Submit(ctx, &SubmitSessionRequest{Ticket: token, QuizID: 1}, "user-1")
	assert.ErrorIs(t, err, ticket.ErrSignature)
}

func TestSessionService_Submit_ReplayRejected(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	req := &SubmitSessionRequest{
		Ticket:  issued.Ticket,
		QuizID:  1,
		Answers: []AnswerSubmission{{QuestionID: 101, OptionID: 11}},
	}

	_, err = fx.service.Submit(ctx, req, "user-1")
	require.NoError(t, err)

	_, err = fx.service.Submit(ctx, req, "user-1")
	assert.ErrorIs(t, err, ErrTicketReplayed)
	assert.Len(t, fx.repo.attempt.attempts, 1)
}

func TestSessionService_Submit_PersistFailureReleasesTicket(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	req := &SubmitSessionRequest{
		Ticket:  issued.Ticket,
		QuizID:  1,
		Answers: []AnswerSubmission{{QuestionID: 101, OptionID: 11}},
	}

	fx.repo.attempt.createErr = errors.New("connection reset")
	_, err = fx.service.Submit(ctx, req, "user-1")
	assert.ErrorIs(t, err, ErrSubmissionFailed)
	assert.Equal(t, 1, fx.repo.rolledBack)
	assert.Empty(t, fx.publisher.GetPublishedEvents())

	// The one-time marker was released, so the retry goes through.
	fx.repo.attempt.createErr = nil
	_, err = fx.service.Submit(ctx, req, "user-1")
	assert.NoError(t, err)
	assert.Len(t, fx.repo.attempt.attempts, 1)
}

func TestSessionService_Submit_LoadFailureDoesNotBurnTicket(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	req := &SubmitSessionRequest{
		Ticket:  issued.Ticket,
		QuizID:  1,
		Answers: []AnswerSubmission{{QuestionID: 101, OptionID: 11}},
	}

	// A failed user fetch rejects the submission but must not consume the
	// ticket; nothing was persisted.
	user := fx.repo.user.users["user-1"]
	delete(fx.repo.user.users, "user-1")
	_, err = fx.service.Submit(ctx, req, "user-1")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.Empty(t, fx.repo.attempt.attempts)

	fx.repo.user.users["user-1"] = user
	_, err = fx.service.Submit(ctx, req, "user-1")
	require.NoError(t, err)
	assert.Len(t, fx.repo.attempt.attempts, 1)
}

func TestSessionService_Submit_ReplayGuardOutageFailsOpen(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	issued, err := fx.service.Issue(ctx, &IssueSessionRequest{QuizID: 1}, "user-1")
	require.NoError(t, err)

	fx.redis.SetError("redis is down")
	defer fx.redis.SetError("")

	_, err = fx.service.Submit(ctx, &SubmitSessionRequest{
		Ticket:  issued.Ticket,
		QuizID:  1,
		Answers: []AnswerSubmission{{QuestionID: 101, OptionID: 11}},
	}, "user-1")
	require.NoError(t, err)
	assert.Len(t, fx.repo.attempt.attempts, 1)
}

// ===== HISTORY =====

func TestSessionService_History(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	quiz := fx.repo.quiz.quizzes[1]
	fx.repo.attempt.attempts = []*models.Attempt{
		{ID: 1, UserID: "user-1", QuizID: 1, Score: 2, Total: 3, Quiz: *quiz, CreatedAt: time.Now()},
		{ID: 2, UserID: "user-1", QuizID: 1, Score: 3, Total: 3, Passed: true, Quiz: *quiz, CreatedAt: time.Now()},
		{ID: 3, UserID: "someone-else", QuizID: 1, Score: 1, Total: 3, Quiz: *quiz, CreatedAt: time.Now()},
	}

	resp, err := fx.service.History(ctx, "user-1", repositories.AttemptFilters{})
	require.NoError(t, err)

	assert.Equal(t, int64(2), resp.Total)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, "Go Basics", resp.Attempts[0].QuizTitle)
	assert.Equal(t, uint(2), resp.Attempts[1].AttemptID)
	assert.True(t, resp.Attempts[1].Passed)
}

func TestSessionService_History_Pagination(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	quiz := fx.repo.quiz.quizzes[1]
	for i := 0; i < 5; i++ {
		fx.repo.attempt.attempts = append(fx.repo.attempt.attempts, &models.Attempt{
			ID: uint(i + 1), UserID: "user-1", QuizID: 1, Total: 3, Quiz: *quiz, CreatedAt: time.Now(),
		})
	}

	resp, err := fx.service.History(ctx, "user-1", repositories.AttemptFilters{Limit: 2, Offset: 2})
	require.NoError(t, err)

	assert.Equal(t, int64(5), resp.Total)
	require.Len(t, resp.Attempts, 2)
	assert.Equal(t, uint(3), resp.Attempts[0].AttemptID)
}

// ===== EXPORT =====

func TestSessionService_ExportHistory(t *testing.T) {
	fx := newServiceFixture(t)
	ctx := context.Background()

	quiz := fx.repo.quiz.quizzes[1]
	fx.repo.attempt.attempts = []*models.Attempt{
		{ID: 1, UserID: "user-1", QuizID: 1, Score: 3, Total: 3, Passed: true, Reward: 30, Quiz: *quiz, CreatedAt: time.Now()},
	}

	data, err := fx.service.ExportHistory(ctx, "user-1")
	require.NoError(t, err)
	require.NotEmpty(t, data)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("Attempt History", "A1")
	require.NoError(t, err)
	assert.Equal(t, "Quiz", header)

	title, err := f.GetCellValue("Attempt History", "A2")
	require.NoError(t, err)
	assert.Equal(t, "Go Basics", title)
}
