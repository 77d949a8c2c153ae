// Package vicapdb records capture activity to a ClickHouse database.
package vicapdb

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
)

const databaseName = "vicap" // official SQL name of the database

// Connection wraps a ClickHouse connection and the channels that feed it.
// A disconnected Connection silently drops every record, so callers never
// need to care whether a database is present.
type Connection struct {
	conn          clickhouse.Conn
	err           error
	activityEntry *ActivityMessage
	sessionmsg    chan *SessionMessage
	recoverymsg   chan *RecoveryMessage
	sync.WaitGroup
}

// NewID returns a new ULID string for a database record.
func NewID() string {
	entropy := ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

func (db *Connection) IsConnected() bool {
	return (db != nil) && (db.conn != nil) && (db.err == nil)
}

// PingServer checks that a ClickHouse server is reachable and prints its
// version.
func PingServer() error {
	db := createConnection()
	if !db.IsConnected() {
		return fmt.Errorf("database is not connected")
	}
	v, err := db.conn.ServerVersion()
	if err != nil {
		return err
	}
	fmt.Printf("ClickHouse server is alive. Version:\n%s\n", v)
	db.conn.Close()
	return nil
}

// StartConnection opens the database, logs the activity entry and starts
// the goroutine that drains the record channels until abort is closed.
func StartConnection(activity *ActivityMessage, abort <-chan struct{}) *Connection {
	db := createConnection()
	db.activityEntry = activity
	db.logActivity()
	go db.handleConnection(abort)
	return db
}

// DummyConnection returns a Connection that is never connected, for use
// when recording is disabled.
func DummyConnection() *Connection {
	db := &Connection{}
	db.Add(1)
	return db
}

func createConnection() *Connection {
	db := &Connection{}
	auth := clickhouse.Auth{
		Database: databaseName,
		Username: os.Getenv("VICAP_DB_USER"),
		Password: os.Getenv("VICAP_DB_PASSWORD"),
	}
	client := clickhouse.ClientInfo{
		Products: []struct {
			Name    string
			Version string
		}{
			{Name: "vicap", Version: "unknown"},
		},
	}
	opt := clickhouse.Options{
		Addr:       []string{"localhost:9000"},
		Auth:       auth,
		ClientInfo: client,
		TLS:        nil,
	}
	conn, err := clickhouse.Open(&opt)
	if err != nil {
		db.err = err
		return db
	}
	db.conn = conn
	db.Add(1)

	if err = conn.Ping(context.Background()); err != nil {
		if exception, ok := err.(*clickhouse.Exception); ok {
			fmt.Printf("Exception [%d] %s \n%s\n", exception.Code, exception.Message, exception.StackTrace)
		}
		db.err = err
		return db
	}

	db.sessionmsg = make(chan *SessionMessage)
	db.recoverymsg = make(chan *RecoveryMessage)
	return db
}

func (db *Connection) logActivity() {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	ae := db.activityEntry
	formattedStart := ae.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := ae.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO vicapactivity VALUES (?, ?, ?, ?, ?, ?, ?)`, nowait,
		ae.ID, ae.Hostname, ae.Githash, ae.Version,
		ae.GoVersion, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into vicapactivity ", err)
		db.err = err
	}
}

func (db *Connection) handleConnection(abort <-chan struct{}) {
	defer db.Done()
	for {
		select {
		case <-abort:
			db.Disconnect()
			return
		case smsg := <-db.sessionmsg:
			db.handleSessionMessage(smsg)
		case rmsg := <-db.recoverymsg:
			db.handleRecoveryMessage(rmsg)
		}
	}
}

func (db *Connection) Disconnect() {
	if db.IsConnected() {
		db.activityEntry.End = time.Now()
		db.logActivity()
	}
}

// RecordSession stores one streaming-session summary in the DB (if open).
func (db *Connection) RecordSession(msg *SessionMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	go func() { db.sessionmsg <- msg }()
}

// RecordRecovery stores one error-recovery event in the DB (if open).
// It blocks until accepted, so recovery events for a session are entered
// in order relative to each other.
func (db *Connection) RecordRecovery(msg *RecoveryMessage) {
	if !db.IsConnected() || msg == nil {
		return
	}
	db.recoverymsg <- msg
}

func (db *Connection) handleSessionMessage(m *SessionMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	formattedStart := m.Start.Format("2006-01-02 15:04:05.000000")
	formattedEnd := m.End.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO sessions VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, nowait,
		m.ID, db.activityEntry.ID, m.Channel, m.Frames, m.Errors,
		m.MeanInterval, m.StdInterval, formattedStart, formattedEnd,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into sessions ", err)
		db.err = err
	}
}

func (db *Connection) handleRecoveryMessage(m *RecoveryMessage) {
	if !db.IsConnected() {
		return
	}
	ctx := context.Background()
	const nowait = false
	formattedTime := m.Time.Format("2006-01-02 15:04:05.000000")
	if err := db.conn.AsyncInsert(ctx, `INSERT INTO recoveries VALUES (?, ?, ?, ?, ?)`, nowait,
		m.ID, db.activityEntry.ID, m.Channel, m.State, formattedTime,
	); err != nil {
		fmt.Println("Error raised on AsyncInsert into recoveries ", err)
		db.err = err
	}
}
