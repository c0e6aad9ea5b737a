package conversation

import (
	"log/slog"
	"time"

	"support-chat-backend/internal/database"
	"support-chat-backend/internal/events"
	"support-chat-backend/utils"
)

type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation_error"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal_error"
)

type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err is a service error carrying code.
func IsCode(err error, code ErrorCode) bool {
	svcErr, ok := err.(*Error)
	return ok && svcErr.Code == code
}

const (
	DefaultReopenWindow    = 24 * time.Hour
	DefaultRetentionWindow = 24 * time.Hour
	// casAttempts bounds retries of transitions that are valid from any
	// concurrent state (close, reopen, rate).
	casAttempts = 3
)

type Options struct {
	ReopenWindow    time.Duration
	RetentionWindow time.Duration
	Events          events.Publisher
	Logger          *slog.Logger
	Now             func() time.Time
}

type Service struct {
	repo            Repository
	events          events.Publisher
	logger          *slog.Logger
	now             func() time.Time
	reopenWindow    time.Duration
	retentionWindow time.Duration
	visitorLocks    *utils.KeyLock
}

func New(db *database.Database, opts Options) *Service {
	return NewWithRepository(NewDynamoRepository(db), opts)
}

func NewWithRepository(repo Repository, opts Options) *Service {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ReopenWindow <= 0 {
		opts.ReopenWindow = DefaultReopenWindow
	}
	if opts.RetentionWindow <= 0 {
		opts.RetentionWindow = DefaultRetentionWindow
	}
	if opts.Events == nil {
		opts.Events = events.NoopPublisher{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		repo:            repo,
		events:          opts.Events,
		logger:          opts.Logger,
		now:             opts.Now,
		reopenWindow:    opts.ReopenWindow,
		retentionWindow: opts.RetentionWindow,
		visitorLocks:    utils.NewKeyLock(),
	}
}
