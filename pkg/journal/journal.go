package journal

import (
	"context"
	"database/sql"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Journal appends peer lifecycle and routing events to a local SQLite file
// for post-hoc diagnostics. Everything is best effort: a broken journal
// never affects routing. Record runs under the router's lock, so inserts
// happen on a dedicated writer goroutine; when the backlog fills, events
// are dropped rather than ever blocking the caller.
type Journal struct {
	db     *sql.DB
	events chan Event
	done   chan struct{}
}

// Event is one recorded row.
type Event struct {
	Event   string
	PeerID  string
	Network string
	Detail  string
	Time    time.Time
}

const backlog = 256

// Open creates or opens the journal database at path and starts the writer.
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS peer_events(event TEXT, peer_id TEXT, network TEXT, detail TEXT, ts INTEGER); CREATE INDEX IF NOT EXISTS idx_peer_events_peer ON peer_events(peer_id);`); err != nil {
		_ = db.Close()
		return nil, err
	}
	j := &Journal{
		db:     db,
		events: make(chan Event, backlog),
		done:   make(chan struct{}),
	}
	go j.run()
	return j, nil
}

func (j *Journal) run() {
	defer close(j.done)
	for e := range j.events {
		if _, err := j.db.Exec(`INSERT INTO peer_events(event, peer_id, network, detail, ts) VALUES(?,?,?,?,?)`,
			e.Event, e.PeerID, e.Network, e.Detail, e.Time.UnixMilli()); err != nil {
			log.Printf("journal write failed: %v", err)
		}
	}
}

// Record queues one event for the writer. Implements the router's journal
// contract; never blocks.
func (j *Journal) Record(event, peerID, network, detail string) {
	if j == nil || j.events == nil {
		return
	}
	e := Event{Event: event, PeerID: peerID, Network: network, Detail: detail, Time: time.Now()}
	select {
	case j.events <- e:
	default:
		log.Printf("journal backlog full; %s event for %s dropped", event, peerID)
	}
}

// Recent returns up to limit events, newest first.
func (j *Journal) Recent(limit int) ([]Event, error) {
	rows, err := j.db.Query(`SELECT event, peer_id, network, detail, ts FROM peer_events ORDER BY ts DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.Event, &e.PeerID, &e.Network, &e.Detail, &ts); err != nil {
			return nil, err
		}
		e.Time = time.UnixMilli(ts)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close drains queued events, stops the writer and closes the database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	close(j.events)
	<-j.done
	return j.db.Close()
}
