package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"stripcall/internal/domain"
	"stripcall/internal/infra/metrics"
)

// Postgres implements the domain repositories on pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.UserRepo    = (*Postgres)(nil)
	_ domain.EventRepo   = (*Postgres)(nil)
	_ domain.CrewRepo    = (*Postgres)(nil)
	_ domain.ProblemRepo = (*Postgres)(nil)
	_ domain.MessageRepo = (*Postgres)(nil)
	_ domain.ReceiptRepo = (*Postgres)(nil)
)

// NewPostgres builds the store adapter.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// GetUser implements domain.UserRepo.
func (p *Postgres) GetUser(ctx context.Context, id int64) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT user_id, user_name, full_name, COALESCE(mobile,''), COALESCE(sub,''), COALESCE(allowed_roles,''), created_at
FROM users WHERE user_id = $1
`, id)
	user, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "user_get", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, err
}

// GetUserByMobile implements domain.UserRepo.
func (p *Postgres) GetUserByMobile(ctx context.Context, mobile string) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT user_id, user_name, full_name, COALESCE(mobile,''), COALESCE(sub,''), COALESCE(allowed_roles,''), created_at
FROM users WHERE mobile = $1
`, mobile)
	user, err := scanUser(row)
	metrics.ObserveNetworkRequest("postgres", "user_get_by_mobile", "users", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return user, err
}

// CreateFromMobile provisions a user from an inbound SMS. The phone number
// doubles as display name until a roster entry replaces it.
func (p *Postgres) CreateFromMobile(ctx context.Context, mobile string, role domain.Role) (domain.User, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	user := domain.User{
		UserName:     mobile,
		FullName:     mobile,
		Mobile:       mobile,
		AllowedRoles: domain.RoleList(role),
	}
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO users (user_name, full_name, mobile, allowed_roles)
VALUES ($1, $1, $1, $2)
RETURNING user_id, created_at
`, mobile, string(role)).Scan(&user.ID, &user.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "user_create", "users", start, err)
	if err != nil {
		return domain.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// SetPushToken implements domain.UserRepo.
func (p *Postgres) SetPushToken(ctx context.Context, userID int64, token string) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE users SET sub = $2 WHERE user_id = $1`, userID, token)
	metrics.ObserveNetworkRequest("postgres", "user_set_push_token", "users", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// GetEvent implements domain.EventRepo.
func (p *Postgres) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT event_id, event_name, COALESCE(hotline_number,''), start_at, end_at, state
FROM events WHERE event_id = $1
`, id)
	event, err := scanEvent(row)
	metrics.ObserveNetworkRequest("postgres", "event_get", "events", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return event, err
}

// GetByHotline implements domain.EventRepo.
func (p *Postgres) GetByHotline(ctx context.Context, hotline string) (domain.Event, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT event_id, event_name, COALESCE(hotline_number,''), start_at, end_at, state
FROM events WHERE hotline_number = $1
`, hotline)
	event, err := scanEvent(row)
	metrics.ObserveNetworkRequest("postgres", "event_get_by_hotline", "events", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return event, err
}

// ListStarted implements domain.EventRepo.
func (p *Postgres) ListStarted(ctx context.Context, now time.Time) ([]domain.Event, error) {
	return p.listEvents(ctx, "events_started", `
SELECT event_id, event_name, COALESCE(hotline_number,''), start_at, end_at, state
FROM events WHERE state = 0 AND start_at <= $1 AND end_at > $1
`, now)
}

// ListEnded implements domain.EventRepo.
func (p *Postgres) ListEnded(ctx context.Context, now time.Time) ([]domain.Event, error) {
	return p.listEvents(ctx, "events_ended", `
SELECT event_id, event_name, COALESCE(hotline_number,''), start_at, end_at, state
FROM events WHERE state = 1 AND end_at <= $1
`, now)
}

func (p *Postgres) listEvents(ctx context.Context, op, query string, now time.Time) ([]domain.Event, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, now)
	metrics.ObserveNetworkRequest("postgres", op, "events", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// SetState implements domain.EventRepo.
func (p *Postgres) SetState(ctx context.Context, eventID int64, state domain.EventState) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE events SET state = $2 WHERE event_id = $1`, eventID, int(state))
	metrics.ObserveNetworkRequest("postgres", "event_set_state", "events", start, err)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrEventNotFound
	}
	return nil
}

// ListMembers implements domain.CrewRepo.
func (p *Postgres) ListMembers(ctx context.Context, eventID int64, crewType string) ([]domain.CrewMembership, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT crew_id, event_id, crew_type, user_id, sms
FROM crews WHERE event_id = $1 AND crew_type = $2
`, eventID, crewType)
	metrics.ObserveNetworkRequest("postgres", "crew_list", "crews", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []domain.CrewMembership
	for rows.Next() {
		var m domain.CrewMembership
		if err := rows.Scan(&m.ID, &m.EventID, &m.CrewType, &m.UserID, &m.SMS); err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

// ActiveMembership implements domain.CrewRepo.
func (p *Postgres) ActiveMembership(ctx context.Context, userID int64) (domain.CrewMembership, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var m domain.CrewMembership
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT crews.crew_id, crews.event_id, crews.crew_type, crews.user_id, crews.sms
FROM crews
JOIN events ON events.event_id = crews.event_id
WHERE crews.user_id = $1 AND events.state = 1
`, userID).Scan(&m.ID, &m.EventID, &m.CrewType, &m.UserID, &m.SMS)
	metrics.ObserveNetworkRequest("postgres", "crew_active_membership", "crews", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CrewMembership{}, domain.ErrCrewNotFound
	}
	return m, err
}

// AddCrewMember implements domain.CrewRepo. Memberships are unique per
// (event, user); re-adding is a no-op.
func (p *Postgres) AddCrewMember(ctx context.Context, eventID int64, crewType string, userID int64, sms bool) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO crews (event_id, crew_type, user_id, sms)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id, user_id) DO NOTHING
`, eventID, crewType, userID, sms)
	metrics.ObserveNetworkRequest("postgres", "crew_add", "crews", start, err)
	return err
}

// GetProblem implements domain.ProblemRepo.
func (p *Postgres) GetProblem(ctx context.Context, id int64) (domain.Problem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT problem_id, event_id, crew_type, strip, category, reporter_id, reported_at,
       resolver_id, resolution_code, resolved_at
FROM problems WHERE problem_id = $1
`, id)
	problem, err := scanProblem(row)
	metrics.ObserveNetworkRequest("postgres", "problem_get", "problems", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Problem{}, domain.ErrProblemNotFound
	}
	return problem, err
}

// OpenByReporter implements domain.ProblemRepo.
func (p *Postgres) OpenByReporter(ctx context.Context, reporterID, eventID int64) (domain.Problem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
SELECT problem_id, event_id, crew_type, strip, category, reporter_id, reported_at,
       resolver_id, resolution_code, resolved_at
FROM problems
WHERE reporter_id = $1 AND event_id = $2 AND resolver_id IS NULL
ORDER BY problem_id
LIMIT 1
`, reporterID, eventID)
	problem, err := scanProblem(row)
	metrics.ObserveNetworkRequest("postgres", "problem_open_by_reporter", "problems", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Problem{}, domain.ErrProblemNotFound
	}
	return problem, err
}

// CreateProblem implements domain.ProblemRepo.
func (p *Postgres) CreateProblem(ctx context.Context, problem domain.Problem) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var id int64
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
INSERT INTO problems (event_id, crew_type, strip, category, reporter_id, reported_at)
VALUES ($1, $2, $3, $4, $5, now())
RETURNING problem_id
`, problem.EventID, problem.CrewType, problem.Strip, problem.Category, problem.ReporterID).Scan(&id)
	metrics.ObserveNetworkRequest("postgres", "problem_create", "problems", start, err)
	if err != nil {
		return 0, fmt.Errorf("create problem: %w", err)
	}
	return id, nil
}

// ResolveProblem implements domain.ProblemRepo. Resolving an already-resolved
// problem affects no rows.
func (p *Postgres) ResolveProblem(ctx context.Context, resolverID, problemID int64, resolutionCode int) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE problems
SET resolver_id = $1, resolution_code = $3, resolved_at = now()
WHERE problem_id = $2 AND resolver_id IS NULL
`, resolverID, problemID, resolutionCode)
	metrics.ObserveNetworkRequest("postgres", "problem_resolve", "problems", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpdateProblem implements domain.ProblemRepo.
func (p *Postgres) UpdateProblem(ctx context.Context, userID, problemID int64, crewType, strip, category string) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE problems
SET strip = $3, category = $4, updater_id = $5, updated_at = now()
WHERE problem_id = $1 AND crew_type = $2
`, problemID, crewType, strip, category, userID)
	metrics.ObserveNetworkRequest("postgres", "problem_update", "problems", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListOpen implements domain.ProblemRepo.
func (p *Postgres) ListOpen(ctx context.Context, eventID int64, crewType string) ([]domain.OpenProblem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT problems.problem_id, problems.strip, problems.category, users.user_name
FROM problems
JOIN users ON users.user_id = problems.reporter_id
WHERE problems.event_id = $1 AND problems.crew_type = $2 AND problems.resolver_id IS NULL
ORDER BY problems.problem_id
`, eventID, crewType)
	metrics.ObserveNetworkRequest("postgres", "problem_list_open", "problems", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var problems []domain.OpenProblem
	for rows.Next() {
		var op domain.OpenProblem
		if err := rows.Scan(&op.ProblemID, &op.Strip, &op.Category, &op.Reporter); err != nil {
			return nil, err
		}
		problems = append(problems, op)
	}
	return problems, rows.Err()
}

// ForceResolveOpen implements domain.ProblemRepo.
func (p *Postgres) ForceResolveOpen(ctx context.Context, eventID, resolverID int64, resolutionCode int) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE problems
SET resolver_id = $2, resolution_code = $3, resolved_at = now()
WHERE event_id = $1 AND resolver_id IS NULL
`, eventID, resolverID, resolutionCode)
	metrics.ObserveNetworkRequest("postgres", "problem_force_resolve", "problems", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// CreateWithReceipts implements domain.MessageRepo. The message insert and the
// receipt batch commit or roll back together, so a crash can no longer leave a
// message without its receipts.
func (p *Postgres) CreateWithReceipts(ctx context.Context, msg domain.Message, recipientIDs []int64) (domain.Message, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{})
	metrics.ObserveNetworkRequest("postgres", "begin_tx", "messages", start, err)
	if err != nil {
		return domain.Message{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	start = time.Now()
	err = tx.QueryRow(ctx, `
INSERT INTO messages (event_id, crew_type, problem_id, body, sender_id, dedup_key, sent_at)
VALUES ($1, $2, $3, $4, $5, $6, now())
RETURNING message_id, sent_at
`, msg.EventID, msg.CrewType, msg.ProblemID, msg.Body, msg.SenderID, msg.DedupKey).Scan(&msg.ID, &msg.SentAt)
	metrics.ObserveNetworkRequest("postgres", "message_create", "messages", start, err)
	if err != nil {
		return domain.Message{}, fmt.Errorf("insert message: %w", err)
	}

	var created int64
	for _, recipientID := range recipientIDs {
		start = time.Now()
		tag, err := tx.Exec(ctx, `
INSERT INTO receipts (event_id, problem_id, message_id, recipient_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (message_id, recipient_id) DO NOTHING
`, msg.EventID, msg.ProblemID, msg.ID, recipientID)
		metrics.ObserveNetworkRequest("postgres", "receipt_create", "receipts", start, err)
		if err != nil {
			return domain.Message{}, fmt.Errorf("insert receipt for user %d: %w", recipientID, err)
		}
		created += tag.RowsAffected()
	}
	if created != int64(len(recipientIDs)) {
		return domain.Message{}, domain.ErrPartialFanout
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Message{}, fmt.Errorf("commit dispatch: %w", err)
	}
	metrics.ReceiptsCreated.Add(float64(created))
	return msg, nil
}

// PendingForUser implements domain.MessageRepo.
func (p *Postgres) PendingForUser(ctx context.Context, userID, eventID int64, crewType string) ([]domain.PendingMessage, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT messages.message_id, messages.problem_id, messages.body
FROM messages
JOIN receipts ON receipts.message_id = messages.message_id
WHERE messages.event_id = $1
  AND messages.crew_type = $2
  AND receipts.recipient_id = $3
  AND receipts.acked_at IS NULL
ORDER BY messages.message_id
`, eventID, crewType, userID)
	metrics.ObserveNetworkRequest("postgres", "message_pending", "messages", start, err)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []domain.PendingMessage
	for rows.Next() {
		var pm domain.PendingMessage
		if err := rows.Scan(&pm.MessageID, &pm.ProblemID, &pm.Body); err != nil {
			return nil, err
		}
		pending = append(pending, pm)
	}
	return pending, rows.Err()
}

// MarkFinished implements domain.MessageRepo.
func (p *Postgres) MarkFinished(ctx context.Context, eventID int64) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
UPDATE messages SET finished_at = now() WHERE event_id = $1 AND finished_at IS NULL
`, eventID)
	metrics.ObserveNetworkRequest("postgres", "message_mark_finished", "messages", start, err)
	return err
}

// Acknowledge implements domain.ReceiptRepo.
func (p *Postgres) Acknowledge(ctx context.Context, userID, messageID int64) (bool, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE receipts SET acked_at = now()
WHERE message_id = $1 AND recipient_id = $2 AND acked_at IS NULL
`, messageID, userID)
	metrics.ObserveNetworkRequest("postgres", "receipt_ack", "receipts", start, err)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AckAllPending implements domain.ReceiptRepo.
func (p *Postgres) AckAllPending(ctx context.Context, eventID int64) (int64, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `
UPDATE receipts SET acked_at = now() WHERE event_id = $1 AND acked_at IS NULL
`, eventID)
	metrics.ObserveNetworkRequest("postgres", "receipt_ack_all", "receipts", start, err)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (domain.User, error) {
	var (
		u     domain.User
		roles string
	)
	if err := row.Scan(&u.ID, &u.UserName, &u.FullName, &u.Mobile, &u.PushToken, &roles, &u.CreatedAt); err != nil {
		return domain.User{}, err
	}
	u.AllowedRoles = domain.RoleList(roles)
	return u, nil
}

func scanEvent(row rowScanner) (domain.Event, error) {
	var (
		e     domain.Event
		state int
	)
	if err := row.Scan(&e.ID, &e.Name, &e.Hotline, &e.StartAt, &e.EndAt, &state); err != nil {
		return domain.Event{}, err
	}
	e.State = domain.EventState(state)
	return e, nil
}

func scanProblem(row rowScanner) (domain.Problem, error) {
	var (
		p          domain.Problem
		resolver   sql.NullInt64
		resolution sql.NullInt32
		resolvedAt sql.NullTime
	)
	if err := row.Scan(&p.ID, &p.EventID, &p.CrewType, &p.Strip, &p.Category, &p.ReporterID,
		&p.ReportedAt, &resolver, &resolution, &resolvedAt); err != nil {
		return domain.Problem{}, err
	}
	if resolver.Valid {
		p.ResolverID = &resolver.Int64
	}
	if resolution.Valid {
		code := int(resolution.Int32)
		p.ResolutionCode = &code
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		p.ResolvedAt = &t
	}
	return p, nil
}
