package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"

	"wizz/models"
)

var (
	ErrNoRows      = errors.New("no rows found")
	ErrUserExists  = errors.New("user already exists")
	ErrUnknownUser = errors.New("unknown user")
)

type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			login TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS friends (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			friend TEXT NOT NULL,
			UNIQUE(owner, friend)
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			sender TEXT NOT NULL,
			recipient TEXT NOT NULL,
			body TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			delivered INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_pending ON messages(recipient, delivered, id)`,
		`CREATE INDEX IF NOT EXISTS idx_friends_owner ON friends(owner)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema.
func (db *DB) migrate() error {
	if !db.columnExists("users", "avatar") {
		if _, err := db.conn.Exec("ALTER TABLE users ADD COLUMN avatar TEXT NOT NULL DEFAULT ''"); err != nil {
			return fmt.Errorf("migrate users.avatar: %w", err)
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

// User methods

func (db *DB) CreateUser(login, password string) error {
	exists, err := db.UserExists(login)
	if err != nil {
		return err
	}
	if exists {
		return ErrUserExists
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	_, err = db.conn.Exec("INSERT INTO users (login, password) VALUES (?, ?)", login, string(hashed))
	if err != nil && strings.Contains(err.Error(), "UNIQUE") {
		return ErrUserExists
	}
	return err
}

func (db *DB) AuthenticateUser(login, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM users WHERE login = ?", login).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (db *DB) UserExists(login string) (bool, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM users WHERE login = ?", login).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Avatar methods

func (db *DB) UpdateUserAvatar(login, path string) error {
	result, err := db.conn.Exec("UPDATE users SET avatar = ? WHERE login = ?", path, login)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrUnknownUser
	}

	return nil
}

// GetUserAvatar returns the stored avatar path, or "" when none is set.
func (db *DB) GetUserAvatar(login string) (string, error) {
	var path string
	err := db.conn.QueryRow("SELECT avatar FROM users WHERE login = ?", login).Scan(&path)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return path, err
}

// Friend methods. Edges are stored in both directions.

func (db *DB) GetFriends(login string) ([]string, error) {
	rows, err := db.conn.Query("SELECT friend FROM friends WHERE owner = ? ORDER BY id", login)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		friends = append(friends, f)
	}

	return friends, rows.Err()
}

func (db *DB) AddFriend(login, friend string) error {
	exists, err := db.UserExists(friend)
	if err != nil {
		return err
	}
	if !exists {
		return ErrUnknownUser
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, edge := range [][2]string{{login, friend}, {friend, login}} {
		if _, err := tx.Exec("INSERT OR IGNORE INTO friends (owner, friend) VALUES (?, ?)", edge[0], edge[1]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (db *DB) RemoveFriend(login, friend string) error {
	result, err := db.conn.Exec(
		"DELETE FROM friends WHERE (owner = ? AND friend = ?) OR (owner = ? AND friend = ?)",
		login, friend, friend, login,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNoRows
	}

	return nil
}

// Message methods

func (db *DB) StoreMessage(sender, recipient, body string, delivered bool) error {
	_, err := db.conn.Exec(
		"INSERT INTO messages (sender, recipient, body, timestamp, delivered) VALUES (?, ?, ?, ?, ?)",
		sender, recipient, body, time.Now().UTC().Format(time.RFC3339Nano), delivered,
	)
	return err
}

// FetchPendingMessages returns undelivered messages for recipient in storage
// order.
func (db *DB) FetchPendingMessages(recipient string) ([]models.PendingMessage, error) {
	return fetchPending(db.conn, recipient)
}

func (db *DB) MarkAsDelivered(id int64) error {
	_, err := db.conn.Exec("UPDATE messages SET delivered = 1 WHERE id = ?", id)
	return err
}

// FlushPendingMessages fetches the pending messages and marks them delivered
// in a single transaction, so a message is handed out at most once.
func (db *DB) FlushPendingMessages(recipient string) ([]models.PendingMessage, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	pending, err := fetchPending(tx, recipient)
	if err != nil {
		return nil, err
	}

	for i := range pending {
		if _, err := tx.Exec("UPDATE messages SET delivered = 1 WHERE id = ?", pending[i].ID); err != nil {
			return nil, err
		}
		pending[i].Delivered = true
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return pending, nil
}

type querier interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func fetchPending(q querier, recipient string) ([]models.PendingMessage, error) {
	rows, err := q.Query(
		"SELECT id, sender, recipient, body, timestamp, delivered FROM messages WHERE recipient = ? AND delivered = 0 ORDER BY id ASC",
		recipient,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.PendingMessage
	for rows.Next() {
		var m models.PendingMessage
		var timestampStr string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Recipient, &m.Body, &timestampStr, &m.Delivered); err != nil {
			return nil, err
		}

		timestamp, err := time.Parse(time.RFC3339Nano, timestampStr)
		if err != nil {
			return nil, err
		}
		m.Timestamp = timestamp

		messages = append(messages, m)
	}

	return messages, rows.Err()
}
