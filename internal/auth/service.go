package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/praxisworks/praxis/internal/security"
	"github.com/praxisworks/praxis/internal/shared"
	"github.com/praxisworks/praxis/jobs"
)

const (
	otpTTL    = 5 * time.Minute
	otpDigits = 6
)

// TaskEnqueuer abstracts the asynq client for task submission.
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Service wraps authentication business rules. Every credential and
// second-factor verdict is recorded through the security monitor.
type Service struct {
	repo     Repository
	redis    *redis.Client
	monitor  *security.Monitor
	enqueuer TaskEnqueuer
	logger   *slog.Logger
}

// NewService constructs a new Service.
func NewService(repo Repository, redisClient *redis.Client, monitor *security.Monitor, enqueuer TaskEnqueuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, redis: redisClient, monitor: monitor, enqueuer: enqueuer, logger: logger}
}

// Authenticate validates email/password credentials, records the attempt and,
// on success, issues a one-time second-factor code. Credential success returns
// the user together with shared.ErrSecondFactorRequired: no session may be
// established until VerifySecondFactor accepts the code.
func (s *Service) Authenticate(ctx context.Context, email, password, ip, ua string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, shared.ErrNotFound) {
			s.logger.Error("auth lookup failed", slog.Any("error", err))
		}
		s.monitor.RecordLoginAttempt(ctx, nil, email, false, ip, ua, map[string]any{"reason": "unknown identifier"})
		return nil, shared.ErrInvalidCredentials
	}
	if block, err := s.monitor.IsPrincipalBlocked(ctx, user.ID); err == nil && block != nil {
		s.monitor.RecordLoginAttempt(ctx, &user.ID, email, false, ip, ua, map[string]any{"reason": "principal blocked"})
		return nil, shared.ErrInvalidCredentials
	}
	if !user.IsActive {
		s.monitor.RecordLoginAttempt(ctx, &user.ID, email, false, ip, ua, map[string]any{"reason": "inactive account"})
		return nil, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		s.monitor.RecordLoginAttempt(ctx, &user.ID, email, false, ip, ua, map[string]any{"reason": "bad password"})
		return nil, shared.ErrInvalidCredentials
	}
	s.monitor.RecordLoginAttempt(ctx, &user.ID, email, true, ip, ua, nil)
	if err := s.issueSecondFactor(ctx, user); err != nil {
		s.logger.Error("issue second factor", slog.Int64("user_id", user.ID), slog.Any("error", err))
		return nil, err
	}
	return user, shared.ErrSecondFactorRequired
}

// VerifySecondFactor checks the one-time code issued at login. The attempt is
// recorded either way; the code is consumed on success.
func (s *Service) VerifySecondFactor(ctx context.Context, userID int64, code, ip, ua string) error {
	stored, err := s.redis.Get(ctx, otpKey(userID)).Result()
	if err != nil || stored == "" || stored != code {
		s.monitor.RecordSecondFactorAttempt(ctx, userID, false, "otp", ip, ua)
		return shared.ErrInvalidCredentials
	}
	if err := s.redis.Del(ctx, otpKey(userID)).Err(); err != nil {
		s.logger.Warn("consume otp", slog.Int64("user_id", userID), slog.Any("error", err))
	}
	s.monitor.RecordSecondFactorAttempt(ctx, userID, true, "otp", ip, ua)
	return nil
}

// RegisterSession persists the session metadata in postgres.
func (s *Service) RegisterSession(ctx context.Context, id string, userID int64, expiresAt time.Time, ip, ua string) error {
	return s.repo.CreateSession(ctx, id, userID, expiresAt, ip, ua)
}

// RemoveSession deletes a session record from postgres.
func (s *Service) RemoveSession(ctx context.Context, id string) error {
	return s.repo.DeleteSession(ctx, id)
}

func (s *Service) issueSecondFactor(ctx context.Context, user *User) error {
	code, err := generateOTP()
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, otpKey(user.ID), code, otpTTL).Err(); err != nil {
		return err
	}
	if s.enqueuer == nil {
		return nil
	}
	task, err := jobs.NewSendEmailTask(jobs.SendEmailPayload{
		To:      user.Email,
		Subject: "Your Praxis verification code",
		Body:    fmt.Sprintf("Your verification code is %s. It expires in %s.", code, otpTTL),
	})
	if err != nil {
		return err
	}
	if _, err := s.enqueuer.EnqueueContext(ctx, task); err != nil {
		s.logger.Warn("enqueue otp mail", slog.Int64("user_id", user.ID), slog.Any("error", err))
	}
	return nil
}

func otpKey(userID int64) string {
	return fmt.Sprintf("auth:otp:%d", userID)
}

func generateOTP() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < otpDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", otpDigits, n), nil
}
