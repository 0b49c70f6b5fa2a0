package store

import (
	"database/sql"
	"time"
)

// UpsertChat inserts or updates a chat record.
func (db *DB) UpsertChat(c *Chat) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO chats (room_id, name, peer_id, peer_name, unread_count, last_message_at, last_message_preview, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			name = excluded.name,
			peer_id = excluded.peer_id,
			peer_name = excluded.peer_name,
			unread_count = excluded.unread_count,
			last_message_at = excluded.last_message_at,
			last_message_preview = excluded.last_message_preview,
			updated_at = excluded.updated_at`,
		c.RoomID, c.Name, c.PeerID, c.PeerName, c.UnreadCount, c.LastMessageAt, c.LastMessagePreview, now)
	return err
}

// ListChats returns cached chats sorted by last message timestamp descending.
func (db *DB) ListChats() ([]*Chat, error) {
	rows, err := db.Query(`
		SELECT room_id, name, peer_id, peer_name, unread_count, last_message_at, last_message_preview
		FROM chats
		ORDER BY last_message_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var chats []*Chat
	for rows.Next() {
		var c Chat
		if err := rows.Scan(&c.RoomID, &c.Name, &c.PeerID, &c.PeerName, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview); err != nil {
			return nil, err
		}
		chats = append(chats, &c)
	}
	return chats, rows.Err()
}

// GetChat returns a single cached chat, nil when absent.
func (db *DB) GetChat(roomID string) (*Chat, error) {
	var c Chat
	err := db.QueryRow(`
		SELECT room_id, name, peer_id, peer_name, unread_count, last_message_at, last_message_preview
		FROM chats WHERE room_id = ?`, roomID).
		Scan(&c.RoomID, &c.Name, &c.PeerID, &c.PeerName, &c.UnreadCount, &c.LastMessageAt, &c.LastMessagePreview)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SetChatName updates the custom label on a chat.
func (db *DB) SetChatName(roomID, name string) error {
	_, err := db.Exec(`UPDATE chats SET name = ?, updated_at = ? WHERE room_id = ?`,
		name, time.Now().UnixMilli(), roomID)
	return err
}

// SetChatUnread sets the unread counter to an absolute value.
func (db *DB) SetChatUnread(roomID string, count int) error {
	_, err := db.Exec(`UPDATE chats SET unread_count = ?, updated_at = ? WHERE room_id = ?`,
		count, time.Now().UnixMilli(), roomID)
	return err
}
