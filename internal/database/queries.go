package database

import (
	"fmt"
	"time"

	"github.com/lib/pq"
)

func (db *PgStudyHallRepository) CreateAccount(params CreateAccountParams) (User, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (username, email, avatar_url, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING id, username, email, avatar_url, created_at",
		params.Username,
		params.EmailAddress,
		params.AvatarUrl,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.AvatarUrl,
		&u.CreatedAt,
	)

	return u, err
}

func (db *PgStudyHallRepository) GetAccountById(id int) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, avatar_url FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AvatarUrl,
	)

	return user, err
}

func (db *PgStudyHallRepository) GetAccountByEmail(email string) (User, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, avatar_url, password_hash FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.AvatarUrl,
		&user.PasswordHash,
	)

	return user, err
}

func (db *PgStudyHallRepository) CreateRoom(params CreateRoomParams) (Room, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Room{}, err
	}
	defer tx.Rollback()

	res := tx.QueryRow(
		"INSERT INTO rooms (external_id, name, description, owner_id, is_private, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, external_id, name, description, owner_id, is_private, created_at",
		params.ExternalId,
		params.Name,
		params.Description,
		params.OwnerId,
		params.IsPrivate,
		time.Now().UTC(),
	)

	var room Room
	if err := res.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.OwnerId,
		&room.IsPrivate,
		&room.CreatedAt,
	); err != nil {
		return Room{}, err
	}

	// the owner is always a member
	memberIds := append([]int{params.OwnerId}, params.MemberIds...)
	for _, id := range memberIds {
		if _, err := tx.Exec(
			"INSERT INTO room_members (room_id, account_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
			room.Id, id,
		); err != nil {
			return Room{}, err
		}
	}
	room.MemberIds = memberIds

	if err := tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgStudyHallRepository) GetRoomByExternalId(externalId string) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT r.id, r.external_id, r.name, r.description, r.owner_id, r.is_private, r.created_at, r.updated_at, "+
			"COALESCE(array_agg(m.account_id) FILTER (WHERE m.account_id IS NOT NULL), '{}') "+
			"FROM rooms r LEFT JOIN room_members m ON m.room_id = r.id "+
			"WHERE r.external_id = $1 "+
			"GROUP BY r.id",
		externalId,
	)

	var room Room
	var memberIds pq.Int64Array
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.OwnerId,
		&room.IsPrivate,
		&room.CreatedAt,
		&room.UpdatedAt,
		&memberIds,
	)
	if err != nil {
		return Room{}, err
	}

	room.MemberIds = make([]int, len(memberIds))
	for i, id := range memberIds {
		room.MemberIds[i] = int(id)
	}

	return room, nil
}

func (db *PgStudyHallRepository) GetRoomById(id int) (Room, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, name, description, owner_id, is_private, created_at, updated_at "+
			"FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.ExternalId,
		&room.Name,
		&room.Description,
		&room.OwnerId,
		&room.IsPrivate,
		&room.CreatedAt,
		&room.UpdatedAt,
	)

	return room, err
}

func (db *PgStudyHallRepository) DeleteRoom(id int) error {
	_, err := db.conn.Exec("DELETE FROM rooms WHERE id = $1", id)
	return err
}

func (db *PgStudyHallRepository) AddRoomMember(roomId, accountId int) error {
	_, err := db.conn.Exec(
		"INSERT INTO room_members (room_id, account_id) VALUES ($1, $2) ON CONFLICT DO NOTHING",
		roomId, accountId,
	)
	return err
}

func (db *PgStudyHallRepository) CreateMessage(params CreateMessageParams) (Message, error) {
	res := db.conn.QueryRow(
		"INSERT INTO messages (room_id, account_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, room_id, account_id, content, created_at",
		params.RoomId,
		params.UserId,
		params.Content,
		time.Now().UTC(),
	)

	var msg Message
	err := res.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.UserId,
		&msg.Content,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgStudyHallRepository) GetMessages(roomId, before, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}

	query := "SELECT m.id, m.room_id, m.account_id, a.username, m.content, m.deleted, m.pinned, m.created_at " +
		"FROM messages m JOIN accounts a ON a.id = m.account_id " +
		"WHERE m.room_id = $1"
	args := []any{roomId}

	if before > 0 {
		query += " AND m.id < $2"
		args = append(args, before)
	}
	query += fmt.Sprintf(" ORDER BY m.id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var msg Message
		if err := rows.Scan(
			&msg.Id,
			&msg.RoomId,
			&msg.UserId,
			&msg.Username,
			&msg.Content,
			&msg.Deleted,
			&msg.Pinned,
			&msg.CreatedAt,
		); err != nil {
			return nil, err
		}
		if msg.Deleted {
			msg.Content = ""
		}

		reactions, err := db.getReactions(msg.Id)
		if err != nil {
			return nil, err
		}
		msg.Reactions = reactions

		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

func (db *PgStudyHallRepository) GetMessageById(id int) (Message, error) {
	row := db.conn.QueryRow(
		"SELECT m.id, m.room_id, m.account_id, a.username, m.content, m.deleted, m.pinned, m.created_at "+
			"FROM messages m JOIN accounts a ON a.id = m.account_id "+
			"WHERE m.id = $1 LIMIT 1",
		id,
	)

	var msg Message
	err := row.Scan(
		&msg.Id,
		&msg.RoomId,
		&msg.UserId,
		&msg.Username,
		&msg.Content,
		&msg.Deleted,
		&msg.Pinned,
		&msg.CreatedAt,
	)

	return msg, err
}

func (db *PgStudyHallRepository) DeleteMessage(id int) error {
	// soft delete, the row stays for history
	_, err := db.conn.Exec(
		"UPDATE messages SET deleted = TRUE, updated_at = $2 WHERE id = $1",
		id, time.Now().UTC(),
	)
	return err
}

func (db *PgStudyHallRepository) SetMessagePinned(id int, pinned bool) error {
	_, err := db.conn.Exec(
		"UPDATE messages SET pinned = $2, updated_at = $3 WHERE id = $1",
		id, pinned, time.Now().UTC(),
	)
	return err
}

func (db *PgStudyHallRepository) AddReaction(messageId, accountId int, emoji string) error {
	_, err := db.conn.Exec(
		"INSERT INTO message_reactions (message_id, account_id, emoji) VALUES ($1, $2, $3) ON CONFLICT DO NOTHING",
		messageId, accountId, emoji,
	)
	return err
}

func (db *PgStudyHallRepository) RemoveReaction(messageId, accountId int, emoji string) error {
	_, err := db.conn.Exec(
		"DELETE FROM message_reactions WHERE message_id = $1 AND account_id = $2 AND emoji = $3",
		messageId, accountId, emoji,
	)
	return err
}

func (db *PgStudyHallRepository) getReactions(messageId int) (map[string][]int, error) {
	rows, err := db.conn.Query(
		"SELECT emoji, account_id FROM message_reactions WHERE message_id = $1",
		messageId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	reactions := make(map[string][]int)
	for rows.Next() {
		var emoji string
		var accountId int
		if err := rows.Scan(&emoji, &accountId); err != nil {
			return nil, err
		}
		reactions[emoji] = append(reactions[emoji], accountId)
	}

	if len(reactions) == 0 {
		return nil, rows.Err()
	}

	return reactions, rows.Err()
}
