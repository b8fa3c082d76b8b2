package loyalty

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"met-loyalty/pkg/config"
	"met-loyalty/pkg/errutil"
	"met-loyalty/pkg/gen"
	"met-loyalty/pkg/lock"
	"met-loyalty/pkg/rediskey"
	"met-loyalty/pkg/sequence"
	"met-loyalty/services/catalog"
	"met-loyalty/services/notification"
)

type NegativeBalancePolicy string

const (
	// PolicyReject fails a deduction that would make available points negative.
	PolicyReject NegativeBalancePolicy = "reject"
	// PolicyClamp deducts at most the available points.
	PolicyClamp NegativeBalancePolicy = "clamp"
)

type Points struct {
	CourseCompletion   int64
	FirstCourseBonus   int64
	FirstCourseMinimum int64
	DailyLogin         int64
}

type Options struct {
	RepositoryTimeout     time.Duration
	MaxConflictRetries    int
	NegativeBalancePolicy NegativeBalancePolicy
	Location              *time.Location
	Points                Points
}

func OptionsFromConfig(cfg config.Loyalty) (Options, error) {
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return Options{}, fmt.Errorf("loyalty timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	policy := NegativeBalancePolicy(strings.ToLower(cfg.NegativeBalancePolicy))
	switch policy {
	case "":
		policy = PolicyReject
	case PolicyReject, PolicyClamp:
	default:
		return Options{}, fmt.Errorf("unknown negative balance policy %q", cfg.NegativeBalancePolicy)
	}

	return Options{
		RepositoryTimeout:     cfg.RepositoryTimeout,
		MaxConflictRetries:    cfg.MaxConflictRetries,
		NegativeBalancePolicy: policy,
		Location:              loc,
		Points: Points{
			CourseCompletion:   cfg.Points.CourseCompletion,
			FirstCourseBonus:   cfg.Points.FirstCourseBonus,
			FirstCourseMinimum: cfg.Points.FirstCourseMinimum,
			DailyLogin:         cfg.Points.DailyLogin,
		},
	}, nil
}

// Engine applies ledger operations. It keeps no per-user state: every call
// loads the account, mutates a private copy under the account lock and
// persists it with a versioned write.
type Engine struct {
	repo     Repository
	locker   lock.Locker
	catalogs *catalog.Store
	sink     notification.Sink
	ids      gen.IDGenerator
	codes    sequence.Generator
	clock    func() time.Time
	opts     Options
	tracer   trace.Tracer
}

type EngineParams struct {
	fx.In

	Config     *config.Config
	Repository Repository
	Locker     lock.Locker
	Catalog    *catalog.Store
	Sink       notification.Sink
	IDs        gen.IDGenerator
	Codes      sequence.Generator
	Clock      func() time.Time `optional:"true"`
}

func NewEngine(p EngineParams) (*Engine, error) {
	opts, err := OptionsFromConfig(p.Config.Loyalty)
	if err != nil {
		return nil, err
	}

	clock := p.Clock
	if clock == nil {
		clock = time.Now
	}
	sink := p.Sink
	if sink == nil {
		sink = notification.Nop()
	}

	return &Engine{
		repo:     p.Repository,
		locker:   p.Locker,
		catalogs: p.Catalog,
		sink:     sink,
		ids:      p.IDs,
		codes:    p.Codes,
		clock:    clock,
		opts:     opts,
		tracer:   otel.Tracer("met-loyalty/services/loyalty"),
	}, nil
}

type AddPointsParams struct {
	Amount      int64
	Kind        TransactionKind
	Category    string
	Description string
	Metadata    map[string]string
}

type Result struct {
	Transaction   Transaction  `json:"transaction"`
	NewBalance    int64        `json:"new_balance"`
	LevelChanged  bool         `json:"level_changed"`
	PreviousLevel catalog.Tier `json:"previous_level"`
	NewLevel      catalog.Tier `json:"new_level"`
}

type CourseCompletion struct {
	CourseID      string
	CourseName    string
	IsFirstCourse bool
	CustomPoints  *int64
}

// GetAccount returns the account, creating and persisting an empty one on
// first use.
func (e *Engine) GetAccount(ctx context.Context, userID string) (acc *Account, err error) {
	ctx, done := e.observe(ctx, "get_account", userID)
	defer done(&err)

	if err := validUserID(userID); err != nil {
		return nil, err
	}

	acc, found, err := e.load(ctx, userID, e.catalogs.Current(), e.clock())
	if err != nil || found {
		return acc, err
	}

	release, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	acc, found, err = e.load(ctx, userID, e.catalogs.Current(), e.clock())
	if err != nil || found {
		return acc, err
	}

	err = e.save(ctx, acc)
	if errors.Is(err, ErrVersionConflict) {
		acc, _, err = e.load(ctx, userID, e.catalogs.Current(), e.clock())
	}
	if err != nil {
		return nil, err
	}
	return acc, nil
}

func (e *Engine) AddPoints(ctx context.Context, userID string, p AddPointsParams) (*Result, error) {
	return e.addPoints(ctx, "add_points", userID, p)
}

func (e *Engine) AdminAddPoints(ctx context.Context, userID string, amount int64, description string) (*Result, error) {
	if amount <= 0 {
		return nil, withMessage(ErrInvalidAmount, "amount must be positive")
	}
	return e.addPoints(ctx, "admin_add_points", userID, AddPointsParams{
		Amount:      amount,
		Kind:        KindEarned,
		Category:    CategoryAdmin,
		Description: description,
	})
}

// AdminRemovePoints deducts amount. Whether the deduction may exceed the
// available balance is decided by the negative balance policy.
func (e *Engine) AdminRemovePoints(ctx context.Context, userID string, amount int64, description string) (*Result, error) {
	if amount <= 0 {
		return nil, withMessage(ErrInvalidAmount, "amount must be positive")
	}
	return e.addPoints(ctx, "admin_remove_points", userID, AddPointsParams{
		Amount:      -amount,
		Kind:        KindRedeemed,
		Category:    CategoryAdmin,
		Description: description,
	})
}

func (e *Engine) addPoints(ctx context.Context, op, userID string, p AddPointsParams) (res *Result, err error) {
	ctx, done := e.observe(ctx, op, userID)
	defer done(&err)

	if p.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if p.Kind != "" && !p.Kind.Valid() {
		return nil, withMessage(ErrInvalidArgument, fmt.Sprintf("unknown transaction kind %q", p.Kind))
	}
	if p.Category == CategoryRedemption {
		return nil, withMessage(ErrInvalidArgument, "category redemption is reserved for reward redemptions")
	}

	_, err = e.mutate(ctx, userID, func(acc *Account, cat *catalog.Catalog, now time.Time) error {
		r, err := e.applyTransaction(acc, cat, p, now)
		res = r
		return err
	})
	if err != nil {
		return nil, err
	}

	e.afterTransaction(ctx, userID, res)
	return res, nil
}

// AddPointsForCourseCompletion credits a course at most once per account.
func (e *Engine) AddPointsForCourseCompletion(ctx context.Context, userID string, c CourseCompletion) (res *Result, err error) {
	ctx, done := e.observe(ctx, "course_completion", userID)
	defer done(&err)

	if strings.TrimSpace(c.CourseID) == "" {
		return nil, withMessage(ErrInvalidArgument, "course id is required")
	}
	amount := e.coursePoints(c)
	if amount <= 0 {
		return nil, withMessage(ErrInvalidAmount, "course points must be positive")
	}

	_, err = e.mutate(ctx, userID, func(acc *Account, cat *catalog.Catalog, now time.Time) error {
		if acc.HasCompletedCourse(c.CourseID) {
			return ErrAlreadyCompleted
		}

		r, err := e.applyTransaction(acc, cat, AddPointsParams{
			Amount:      amount,
			Kind:        KindEarned,
			Category:    CategoryCourseCompletion,
			Description: fmt.Sprintf("Completed course %s", courseLabel(c)),
			Metadata: map[string]string{
				MetadataCourseID:   c.CourseID,
				MetadataCourseName: c.CourseName,
			},
		}, now)
		if err != nil {
			return err
		}

		acc.CompletedCourseIDs = append(acc.CompletedCourseIDs, c.CourseID)
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterTransaction(ctx, userID, res)
	return res, nil
}

func (e *Engine) coursePoints(c CourseCompletion) int64 {
	base := e.opts.Points.CourseCompletion
	if c.CustomPoints != nil {
		base = *c.CustomPoints
	}
	if c.IsFirstCourse {
		return max(base+e.opts.Points.FirstCourseBonus, e.opts.Points.FirstCourseMinimum)
	}
	return base
}

func courseLabel(c CourseCompletion) string {
	if c.CourseName != "" {
		return c.CourseName
	}
	return c.CourseID
}

// AddDailyLoginPoints grants the login bonus once per calendar date in the
// configured time zone.
func (e *Engine) AddDailyLoginPoints(ctx context.Context, userID string) (res *Result, err error) {
	ctx, done := e.observe(ctx, "daily_login", userID)
	defer done(&err)

	_, err = e.mutate(ctx, userID, func(acc *Account, cat *catalog.Catalog, now time.Time) error {
		today := now.In(e.opts.Location).Format(dateLayout)
		if acc.LastDailyLoginDate != nil && *acc.LastDailyLoginDate == today {
			return ErrAlreadyClaimedToday
		}

		r, err := e.applyTransaction(acc, cat, AddPointsParams{
			Amount:      e.opts.Points.DailyLogin,
			Kind:        KindBonus,
			Category:    CategoryDailyLogin,
			Description: "Daily login bonus",
			Metadata:    map[string]string{MetadataDate: today},
		}, now)
		if err != nil {
			return err
		}

		acc.LastDailyLoginDate = &today
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.afterTransaction(ctx, userID, res)
	return res, nil
}

// ListTransactions returns the most recent transactions first. A limit of
// zero or less returns all of them.
func (e *Engine) ListTransactions(ctx context.Context, userID string, limit int) (txs []Transaction, err error) {
	ctx, done := e.observe(ctx, "list_transactions", userID)
	defer done(&err)

	acc, _, err := e.snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	txs = acc.Transactions
	if limit > 0 && len(txs) > limit {
		txs = txs[:limit]
	}
	return txs, nil
}

// applyTransaction appends a transaction to acc and recomputes its level.
func (e *Engine) applyTransaction(acc *Account, cat *catalog.Catalog, p AddPointsParams, now time.Time) (*Result, error) {
	amount := p.Amount
	if amount < 0 && acc.AvailablePoints+amount < 0 {
		if e.opts.NegativeBalancePolicy != PolicyClamp || acc.AvailablePoints <= 0 {
			return nil, ErrInsufficientPoints
		}
		amount = -acc.AvailablePoints
	}

	kind := p.Kind
	if kind == "" {
		kind = KindEarned
		if amount < 0 {
			kind = KindRedeemed
		}
	}

	tx := Transaction{
		ID:           e.ids.NewID(),
		Kind:         kind,
		Amount:       amount,
		Category:     p.Category,
		Description:  p.Description,
		Metadata:     maps.Clone(p.Metadata),
		Timestamp:    now,
		PreviousHash: acc.LastHash(),
	}
	tx.Hash = tx.GenerateHash()

	previous := e.levelOf(acc, cat)
	acc.append(tx)
	next := cat.LevelFor(acc.LifetimePoints)
	changed := previous.Key != next.Key
	acc.CurrentLevel = next.Key

	return &Result{
		Transaction:   tx,
		NewBalance:    acc.AvailablePoints,
		LevelChanged:  changed,
		PreviousLevel: previous,
		NewLevel:      next,
	}, nil
}

func (e *Engine) afterTransaction(ctx context.Context, userID string, res *Result) {
	observePoints(res.Transaction)
	if !res.LevelChanged {
		return
	}

	logger(ctx).Info("account level changed",
		zap.String("user_id", userID),
		zap.String("old_level", res.PreviousLevel.Key),
		zap.String("new_level", res.NewLevel.Key))
	e.publish(ctx, notification.NewLevelUp(userID, res.PreviousLevel, res.NewLevel, res.Transaction.Timestamp))
}

// publish hands the event to the sink. Failures are logged only; the
// mutation is already durable.
func (e *Engine) publish(ctx context.Context, ev notification.Event) {
	if err := e.sink.Publish(ctx, ev); err != nil {
		logger(ctx).Warn("failed to publish notification",
			zap.String("event_type", string(ev.Type)),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}

type mutation func(acc *Account, cat *catalog.Catalog, now time.Time) error

// mutate runs fn on a fresh copy of the account under the account lock and
// persists the result. A version conflict reloads and re-runs fn, so fn must
// derive everything from the account it is given.
func (e *Engine) mutate(ctx context.Context, userID string, fn mutation) (*Account, error) {
	if err := validUserID(userID); err != nil {
		return nil, err
	}

	release, err := e.lock(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer release()

	for attempt := 0; ; attempt++ {
		cat := e.catalogs.Current()
		now := e.clock()

		acc, _, err := e.load(ctx, userID, cat, now)
		if err != nil {
			return nil, err
		}
		if err := fn(acc, cat, now); err != nil {
			return nil, err
		}
		acc.UpdatedAt = now

		err = e.save(ctx, acc)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		if attempt >= e.opts.MaxConflictRetries {
			return nil, errutil.Wrap(ErrConcurrentUpdate, err)
		}

		conflictRetriesTotal.Inc()
		logger(ctx).Warn("account version conflict, retrying",
			zap.String("user_id", userID),
			zap.Int("attempt", attempt+1))
	}
}

func (e *Engine) lock(ctx context.Context, userID string) (func(), error) {
	release, err := e.locker.Lock(ctx, rediskey.BuildAccountLockKey(userID))
	if err != nil {
		return nil, errutil.Wrap(ErrStorageUnavailable, fmt.Errorf("lock account %s: %w", userID, err))
	}
	return release, nil
}

// load returns the stored account or a new empty one. found reports whether
// it was stored.
func (e *Engine) load(ctx context.Context, userID string, cat *catalog.Catalog, now time.Time) (*Account, bool, error) {
	ctx, cancel := e.repoContext(ctx)
	defer cancel()

	acc, err := e.repo.Load(ctx, userID)
	if err != nil {
		return nil, false, storageError(err)
	}
	if acc == nil {
		return newAccount(userID, cat.Lowest().Key, now), false, nil
	}
	return acc, true, nil
}

func (e *Engine) save(ctx context.Context, acc *Account) error {
	ctx, cancel := e.repoContext(ctx)
	defer cancel()

	return storageError(e.repo.Save(ctx, acc))
}

func (e *Engine) repoContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.opts.RepositoryTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.opts.RepositoryTimeout)
}

// ViewAccount returns the account without persisting anything. An unknown
// user gets an unsaved zero account.
func (e *Engine) ViewAccount(ctx context.Context, userID string) (acc *Account, err error) {
	ctx, done := e.observe(ctx, "view_account", userID)
	defer done(&err)

	acc, _, err = e.snapshot(ctx, userID)
	return acc, err
}

// snapshot loads the account without locking, for read-only operations.
func (e *Engine) snapshot(ctx context.Context, userID string) (*Account, *catalog.Catalog, error) {
	if err := validUserID(userID); err != nil {
		return nil, nil, err
	}
	cat := e.catalogs.Current()
	acc, _, err := e.load(ctx, userID, cat, e.clock())
	if err != nil {
		return nil, nil, err
	}
	return acc, cat, nil
}

func validUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return withMessage(ErrInvalidArgument, "user id is required")
	}
	return nil
}

func (e *Engine) observe(ctx context.Context, op, userID string) (context.Context, func(*error)) {
	ctx, span := e.tracer.Start(ctx, "loyalty."+op, trace.WithAttributes(attribute.String("user_id", userID)))
	start := time.Now()

	return ctx, func(errp *error) {
		err := *errp
		operationsTotal.WithLabelValues(op, resultLabel(err)).Inc()
		operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

		if err != nil {
			span.SetAttributes(attribute.String("error.reason", reasonOf(err)))
			if !IsBusinessError(err) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				logger(ctx).Error("loyalty operation failed",
					zap.String("op", op),
					zap.String("user_id", userID),
					zap.Error(err))
			}
		}
		span.End()
	}
}

func reasonOf(err error) string {
	var be errutil.BaseError
	if errors.As(err, &be) && be.Reason != "" {
		return be.Reason
	}
	return "UNKNOWN"
}

func logger(ctx context.Context) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return zap.L()
	}
	return zap.L().With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
