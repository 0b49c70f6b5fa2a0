package store

import (
	"fmt"
	"strings"
	"time"
)

// AppendMessage inserts or updates a cached message. Idempotent on
// room_id + msg_id: concurrent appends of the same message land on one row.
func (db *DB) AppendMessage(m *Message) error {
	now := time.Now().UnixMilli()
	var parentID, parentType, parentPreview string
	var parentDeleted bool
	if m.Parent != nil {
		parentID = m.Parent.ID
		parentType = string(m.Parent.Type)
		parentPreview = m.Parent.Content
		parentDeleted = m.Parent.IsDeleted
	}
	_, err := db.Exec(`
		INSERT INTO messages (room_id, msg_id, sender_id, parent_msg_id, parent_type, parent_preview, parent_deleted,
			body, message_type, message_name, message_size, status, timestamp, updated_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, msg_id) DO UPDATE SET
			body = excluded.body,
			status = excluded.status,
			parent_deleted = excluded.parent_deleted,
			updated_at = excluded.updated_at`,
		m.RoomID, m.ID, m.SenderID, parentID, parentType, parentPreview, parentDeleted,
		m.Content, string(m.Type), m.Name, m.Size, string(m.Status), m.CreatedAt, m.UpdatedAt, now)
	return err
}

// MessagesForRoom returns the cached log for a room in chronological order.
// An absent room yields an empty slice, never an error.
func (db *DB) MessagesForRoom(roomID string) ([]*Message, error) {
	rows, err := db.Query(`
		SELECT room_id, msg_id, sender_id, parent_msg_id, parent_type, parent_preview, parent_deleted,
			body, message_type, message_name, message_size, status, timestamp, updated_at
		FROM messages
		WHERE room_id = ?
		ORDER BY timestamp ASC, created_at ASC`, roomID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	msgs := []*Message{}
	for rows.Next() {
		var m Message
		var parentID, parentType, parentPreview string
		var parentDeleted bool
		if err := rows.Scan(&m.RoomID, &m.ID, &m.SenderID, &parentID, &parentType, &parentPreview, &parentDeleted,
			&m.Content, &m.Type, &m.Name, &m.Size, &m.Status, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		if parentID != "" {
			m.Parent = &ParentRef{ID: parentID, Type: MessageType(parentType), Content: parentPreview, IsDeleted: parentDeleted}
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

// ReplaceRoom atomically replaces the cached log for a room.
func (db *DB) ReplaceRoom(roomID string, msgs []*Message) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE room_id = ?`, roomID); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}

	now := time.Now().UnixMilli()
	for _, m := range msgs {
		var parentID, parentType, parentPreview string
		var parentDeleted bool
		if m.Parent != nil {
			parentID = m.Parent.ID
			parentType = string(m.Parent.Type)
			parentPreview = m.Parent.Content
			parentDeleted = m.Parent.IsDeleted
		}
		if _, err := tx.Exec(`
			INSERT INTO messages (room_id, msg_id, sender_id, parent_msg_id, parent_type, parent_preview, parent_deleted,
				body, message_type, message_name, message_size, status, timestamp, updated_at, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			roomID, m.ID, m.SenderID, parentID, parentType, parentPreview, parentDeleted,
			m.Content, string(m.Type), m.Name, m.Size, string(m.Status), m.CreatedAt, m.UpdatedAt, now); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}

	return tx.Commit()
}

// MarkMessagesRead flips cached messages to READ. Ids not present are ignored.
func (db *DB) MarkMessagesRead(roomID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(ids)+2)
	args = append(args, string(StatusRead), time.Now().UnixMilli(), roomID)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := db.Exec(
		`UPDATE messages SET status = ?, updated_at = ? WHERE room_id = ? AND msg_id IN (`+placeholders+`)`,
		args...)
	return err
}

// RemoveMessage deletes a message from the cache and tombstones replies
// that pointed at it.
func (db *DB) RemoveMessage(roomID, msgID string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM messages WHERE room_id = ? AND msg_id = ?`, roomID, msgID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE messages SET parent_deleted = 1, updated_at = ? WHERE room_id = ? AND parent_msg_id = ?`,
		time.Now().UnixMilli(), roomID, msgID); err != nil {
		return fmt.Errorf("tombstone replies: %w", err)
	}

	return tx.Commit()
}

// ClearRoom drops the cached log for a room.
func (db *DB) ClearRoom(roomID string) error {
	_, err := db.Exec(`DELETE FROM messages WHERE room_id = ?`, roomID)
	return err
}
