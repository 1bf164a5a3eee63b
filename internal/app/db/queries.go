package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"

	"lfchat/internal/app/identity"
	"lfchat/internal/app/store"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries implements store.Store.
type Queries struct {
	db DBTX
}

var _ store.Store = (*Queries)(nil)

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const identityColumns = `id::text, nickname, gender, last_active, is_online, created_at`

const messageColumns = `m.id, m.user_id::text, u.nickname, m.room_id, m.recipient_id::text,
	m.content, m.message_type, m.is_private, m.created_at`

// toUUID parses id. Malformed ids can never match a row.
func toUUID(id string) (pgtype.UUID, bool) {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, true
}

func scanIdentity(row pgx.Row) (identity.Identity, error) {
	var (
		ident  identity.Identity
		gender string
	)
	err := row.Scan(&ident.ID, &ident.Nickname, &gender, &ident.LastActive, &ident.IsOnline, &ident.CreatedAt)
	ident.Gender = identity.Gender(gender)
	return ident, err
}

func scanMessage(row pgx.Row) (store.Message, error) {
	var (
		msg       store.Message
		roomID    *string
		recipient *string
		kind      string
	)
	err := row.Scan(&msg.ID, &msg.SenderID, &msg.Nickname, &roomID, &recipient,
		&msg.Content, &kind, &msg.IsPrivate, &msg.CreatedAt)
	if roomID != nil {
		msg.RoomID = *roomID
	}
	if recipient != nil {
		msg.RecipientID = *recipient
	}
	msg.Kind = store.Kind(kind)
	return msg, err
}

func (q *Queries) GetIdentity(ctx context.Context, id string) (identity.Identity, error) {
	uid, ok := toUUID(id)
	if !ok {
		return identity.Identity{}, fmt.Errorf("get identity: %w", store.ErrNotFound)
	}

	row := q.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM users WHERE id = $1`, uid)
	ident, err := scanIdentity(row)
	return ident, mapError("get identity", err)
}

func (q *Queries) GetIdentityByNickname(ctx context.Context, nickname string) (identity.Identity, error) {
	row := q.db.QueryRow(ctx, `SELECT `+identityColumns+` FROM users WHERE lower(nickname) = lower($1)`, nickname)
	ident, err := scanIdentity(row)
	return ident, mapError("get identity by nickname", err)
}

func (q *Queries) CreateIdentity(ctx context.Context, ident identity.Identity) (identity.Identity, error) {
	if ident.ID == "" {
		ident.ID = uuid.NewString()
	}
	uid, ok := toUUID(ident.ID)
	if !ok {
		return identity.Identity{}, fmt.Errorf("create identity: malformed id %q", ident.ID)
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO users (id, nickname, gender, is_online, last_active)
		VALUES ($1, $2, $3, true, now())
		RETURNING `+identityColumns,
		uid, ident.Nickname, string(ident.Gender))
	created, err := scanIdentity(row)
	return created, mapError("create identity", err)
}

func (q *Queries) MarkOnline(ctx context.Context, id string) (identity.Identity, error) {
	uid, ok := toUUID(id)
	if !ok {
		return identity.Identity{}, fmt.Errorf("mark online: %w", store.ErrNotFound)
	}

	row := q.db.QueryRow(ctx, `
		UPDATE users SET is_online = true, last_active = now()
		WHERE id = $1
		RETURNING `+identityColumns, uid)
	ident, err := scanIdentity(row)
	return ident, mapError("mark online", err)
}

func (q *Queries) MarkOffline(ctx context.Context, id string) error {
	return q.execByID(ctx, "mark offline", `UPDATE users SET is_online = false, last_active = now() WHERE id = $1`, id)
}

func (q *Queries) TouchIdentity(ctx context.Context, id string) error {
	return q.execByID(ctx, "touch identity", `UPDATE users SET last_active = now() WHERE id = $1`, id)
}

func (q *Queries) DeleteIdentity(ctx context.Context, id string) error {
	return q.execByID(ctx, "delete identity", `DELETE FROM users WHERE id = $1`, id)
}

// execByID runs a single-row statement keyed by id; zero affected rows is ErrNotFound.
func (q *Queries) execByID(ctx context.Context, op, sql, id string) error {
	uid, ok := toUUID(id)
	if !ok {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}

	tag, err := q.db.Exec(ctx, sql, uid)
	if err != nil {
		return mapError(op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", op, store.ErrNotFound)
	}
	return nil
}

func (q *Queries) HasSentMessage(ctx context.Context, id string) (bool, error) {
	uid, ok := toUUID(id)
	if !ok {
		return false, nil
	}

	var sent bool
	err := q.db.QueryRow(ctx, `SELECT has_sent FROM users WHERE id = $1`, uid).Scan(&sent)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return sent, mapError("has sent message", err)
}

func (q *Queries) ListIdentities(ctx context.Context, ids []string) ([]identity.Identity, error) {
	uids := make([]pgtype.UUID, 0, len(ids))
	for _, id := range ids {
		if uid, ok := toUUID(id); ok {
			uids = append(uids, uid)
		}
	}
	if len(uids) == 0 {
		return []identity.Identity{}, nil
	}

	rows, err := q.db.Query(ctx, `SELECT `+identityColumns+` FROM users WHERE id = ANY($1) ORDER BY nickname`, uids)
	if err != nil {
		return nil, mapError("list identities", err)
	}
	defer rows.Close()

	out := make([]identity.Identity, 0, len(uids))
	for rows.Next() {
		ident, err := scanIdentity(rows)
		if err != nil {
			return nil, mapError("list identities", err)
		}
		out = append(out, ident)
	}
	return out, mapError("list identities", rows.Err())
}

func (q *Queries) ResetOnline(ctx context.Context) (int64, error) {
	tag, err := q.db.Exec(ctx, `UPDATE users SET is_online = false WHERE is_online`)
	if err != nil {
		return 0, mapError("reset online", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeleteStaleGhosts(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM users u
		WHERE NOT u.is_online
		  AND u.created_at < $1
		  AND NOT u.has_sent`, cutoff)
	if err != nil {
		return 0, mapError("delete stale ghosts", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) InsertMessage(ctx context.Context, msg store.NewMessage) (store.Message, error) {
	sender, ok := toUUID(msg.SenderID)
	if !ok {
		return store.Message{}, fmt.Errorf("insert message: %w", store.ErrInvalidReference)
	}

	var (
		roomID    *string
		recipient pgtype.UUID
	)
	if msg.IsPrivate {
		if recipient, ok = toUUID(msg.RecipientID); !ok {
			return store.Message{}, fmt.Errorf("insert message: %w", store.ErrInvalidReference)
		}
	} else {
		roomID = &msg.RoomID
	}

	row := q.db.QueryRow(ctx, `
		WITH m AS (
			INSERT INTO messages (user_id, room_id, recipient_id, content, message_type, is_private)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING *
		), sent AS (
			UPDATE users SET has_sent = true WHERE id = $1 AND NOT has_sent
		)
		SELECT `+messageColumns+`
		FROM m JOIN users u ON u.id = m.user_id`,
		sender, roomID, recipient, msg.Content, string(msg.Kind), msg.IsPrivate)

	inserted, err := scanMessage(row)
	if err != nil {
		return store.Message{}, mapError("insert message", err)
	}
	return inserted, nil
}

func (q *Queries) TrimRoom(ctx context.Context, roomID string, keep int) (int64, error) {
	tag, err := q.db.Exec(ctx, `
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages
			WHERE room_id = $1 AND NOT is_private
			ORDER BY id DESC
			OFFSET $2
		)`, roomID, keep)
	if err != nil {
		return 0, mapError("trim room", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) TrimPrivate(ctx context.Context, pair store.Pair, keep int) (int64, error) {
	a, b, ok := pairUUIDs(pair)
	if !ok {
		return 0, nil
	}

	tag, err := q.db.Exec(ctx, `
		DELETE FROM messages WHERE id IN (
			SELECT id FROM messages
			WHERE is_private
			  AND ((user_id = $1 AND recipient_id = $2) OR (user_id = $2 AND recipient_id = $1))
			ORDER BY id DESC
			OFFSET $3
		)`, a, b, keep)
	if err != nil {
		return 0, mapError("trim private", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) DeletePrivateMessages(ctx context.Context, pair store.Pair) (int64, error) {
	a, b, ok := pairUUIDs(pair)
	if !ok {
		return 0, nil
	}

	tag, err := q.db.Exec(ctx, `
		DELETE FROM messages
		WHERE is_private
		  AND ((user_id = $1 AND recipient_id = $2) OR (user_id = $2 AND recipient_id = $1))`, a, b)
	if err != nil {
		return 0, mapError("delete private messages", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) InactivePrivatePairs(ctx context.Context, cutoff time.Time) ([]store.Pair, error) {
	rows, err := q.db.Query(ctx, `
		SELECT LEAST(user_id, recipient_id)::text, GREATEST(user_id, recipient_id)::text
		FROM messages
		WHERE is_private
		GROUP BY 1, 2
		HAVING MAX(created_at) < $1`, cutoff)
	if err != nil {
		return nil, mapError("inactive private pairs", err)
	}
	defer rows.Close()

	var pairs []store.Pair
	for rows.Next() {
		var a, b string
		if err := rows.Scan(&a, &b); err != nil {
			return nil, mapError("inactive private pairs", err)
		}
		pairs = append(pairs, store.NewPair(a, b))
	}
	return pairs, mapError("inactive private pairs", rows.Err())
}

func (q *Queries) RoomMessages(ctx context.Context, roomID string, page store.Page) ([]store.Message, error) {
	rows, err := q.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.room_id = $1 AND NOT m.is_private
		ORDER BY m.id DESC
		LIMIT $2 OFFSET $3`, roomID, page.Limit, page.Offset)
	if err != nil {
		return nil, mapError("room messages", err)
	}
	return collectHistory(rows, "room messages")
}

func (q *Queries) PrivateMessages(ctx context.Context, pair store.Pair, page store.Page) ([]store.Message, error) {
	a, b, ok := pairUUIDs(pair)
	if !ok {
		return []store.Message{}, nil
	}

	rows, err := q.db.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages m JOIN users u ON u.id = m.user_id
		WHERE m.is_private
		  AND ((m.user_id = $1 AND m.recipient_id = $2) OR (m.user_id = $2 AND m.recipient_id = $1))
		ORDER BY m.id DESC
		LIMIT $3 OFFSET $4`, a, b, page.Limit, page.Offset)
	if err != nil {
		return nil, mapError("private messages", err)
	}
	return collectHistory(rows, "private messages")
}

// errReadTarget rejects a ReadTarget without exactly one field set.
var errReadTarget = errors.New("exactly one of room and other user is required")

func (q *Queries) MarkRead(ctx context.Context, userID string, target store.ReadTarget) (int64, error) {
	if (target.RoomID == "") == (target.OtherUserID == "") {
		return 0, fmt.Errorf("mark read: %w", errReadTarget)
	}

	reader, ok := toUUID(userID)
	if !ok {
		return 0, nil
	}

	var (
		tag pgconn.CommandTag
		err error
	)
	if target.RoomID != "" {
		tag, err = q.db.Exec(ctx, `
			INSERT INTO message_reads (message_id, user_id)
			SELECT m.id, $1
			FROM messages m
			WHERE m.room_id = $2 AND NOT m.is_private AND m.user_id <> $1
			ON CONFLICT DO NOTHING`, reader, target.RoomID)
	} else {
		other, ok := toUUID(target.OtherUserID)
		if !ok {
			return 0, nil
		}
		tag, err = q.db.Exec(ctx, `
			INSERT INTO message_reads (message_id, user_id)
			SELECT m.id, $1
			FROM messages m
			WHERE m.is_private AND m.user_id = $2 AND m.recipient_id = $1
			ON CONFLICT DO NOTHING`, reader, other)
	}
	if err != nil {
		return 0, mapError("mark read", err)
	}
	return tag.RowsAffected(), nil
}

func (q *Queries) UnreadCounts(ctx context.Context, userID string) (store.UnreadCounts, error) {
	counts := store.UnreadCounts{Rooms: map[string]int{}, PrivateChats: map[string]int{}}

	reader, ok := toUUID(userID)
	if !ok {
		return counts, nil
	}

	rows, err := q.db.Query(ctx, `
		SELECT false, m.room_id, COUNT(*)
		FROM messages m
		LEFT JOIN message_reads r ON r.message_id = m.id AND r.user_id = $1
		WHERE NOT m.is_private AND m.user_id <> $1 AND r.message_id IS NULL
		GROUP BY m.room_id
		UNION ALL
		SELECT true, m.user_id::text, COUNT(*)
		FROM messages m
		LEFT JOIN message_reads r ON r.message_id = m.id AND r.user_id = $1
		WHERE m.is_private AND m.recipient_id = $1 AND r.message_id IS NULL
		GROUP BY m.user_id`, reader)
	if err != nil {
		return counts, mapError("unread counts", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			private bool
			key     string
			n       int
		)
		if err := rows.Scan(&private, &key, &n); err != nil {
			return counts, mapError("unread counts", err)
		}
		if private {
			counts.PrivateChats[key] = n
		} else {
			counts.Rooms[key] = n
		}
	}
	return counts, mapError("unread counts", rows.Err())
}

// collectHistory scans newest-first rows and returns them oldest first.
func collectHistory(rows pgx.Rows, op string) ([]store.Message, error) {
	defer rows.Close()

	out := []store.Message{}
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, mapError(op, err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(op, err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func pairUUIDs(pair store.Pair) (pgtype.UUID, pgtype.UUID, bool) {
	a, okA := toUUID(pair.A)
	b, okB := toUUID(pair.B)
	return a, b, okA && okB
}
