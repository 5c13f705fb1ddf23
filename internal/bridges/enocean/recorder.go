package enocean

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-enocean/internal/bridges/enocean/esp3"
)

// Recorder passively records every sender heard by the gateway and every
// teach-in telegram, building a site survey over time. The bridge answers
// list_devices requests from it.
//
// Thread Safety: All methods are safe for concurrent use.
type Recorder struct {
	db     *sql.DB
	logger Logger

	// Prepared statements for upserts (created once, reused)
	senderUpsertStmt  *sql.Stmt
	teachInUpsertStmt *sql.Stmt
	stmtMu            sync.Mutex

	// Shutdown coordination
	closed bool
	mu     sync.RWMutex
}

// SenderRecord is a row of the sender survey.
type SenderRecord struct {
	Address      esp3.Address
	RORG         esp3.RORG
	LastSeen     time.Time
	MessageCount int
	LastDBm      int
	BestDBm      int
}

// TeachInRecord is the most recent teach-in seen from a sender.
type TeachInRecord struct {
	Address      esp3.Address
	Profile      esp3.Profile
	Manufacturer esp3.Manufacturer // ManufacturerUnknown when not announced
	DBm          int
	FirstSeen    time.Time
	LastSeen     time.Time
	Count        int
}

// NewRecorder creates a recorder. The database must have the
// enocean_senders and enocean_teach_ins tables created.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *Recorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the recorder for use.
// Must be called before RecordTelegram.
func (r *Recorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.senderUpsertStmt != nil {
		return nil // Already started
	}

	senderStmt, err := r.db.Prepare(`
		INSERT INTO enocean_senders (address, rorg, last_seen, message_count, last_dbm, best_dbm)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			rorg = excluded.rorg,
			last_seen = excluded.last_seen,
			message_count = message_count + 1,
			last_dbm = excluded.last_dbm,
			best_dbm = MAX(best_dbm, excluded.best_dbm)
	`)
	if err != nil {
		return fmt.Errorf("preparing sender upsert statement: %w", err)
	}

	teachInStmt, err := r.db.Prepare(`
		INSERT INTO enocean_teach_ins (address, profile, manufacturer, dbm, first_seen, last_seen, teach_in_count)
		VALUES (?, ?, ?, ?, ?, ?, 1)
		ON CONFLICT(address) DO UPDATE SET
			profile = excluded.profile,
			manufacturer = excluded.manufacturer,
			dbm = excluded.dbm,
			last_seen = excluded.last_seen,
			teach_in_count = teach_in_count + 1
	`)
	if err != nil {
		senderStmt.Close()
		return fmt.Errorf("preparing teach-in upsert statement: %w", err)
	}

	r.senderUpsertStmt = senderStmt
	r.teachInUpsertStmt = teachInStmt
	r.log("sender recorder started")
	return nil
}

// Stop closes the recorder and releases resources.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.senderUpsertStmt != nil {
		r.senderUpsertStmt.Close()
		r.senderUpsertStmt = nil
	}
	if r.teachInUpsertStmt != nil {
		r.teachInUpsertStmt.Close()
		r.teachInUpsertStmt = nil
	}

	r.log("sender recorder stopped")
}

// statements returns the prepared statements, or nils when stopped.
func (r *Recorder) statements() (sender, teachIn *sql.Stmt) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, nil
	}

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	return r.senderUpsertStmt, r.teachInUpsertStmt
}

// RecordTelegram records a telegram from sender.
//
// Parameters:
//   - sender: Radio address of the transmitting device
//   - rorg: Telegram kind
//   - dBm: Signal strength (negative), 0 when the gateway did not report it
func (r *Recorder) RecordTelegram(sender esp3.Address, rorg esp3.RORG, dBm int) {
	stmt, _ := r.statements()
	if stmt == nil {
		return // Not started
	}

	if sender == 0 || sender == esp3.AddressBroadcast {
		return
	}

	if _, err := stmt.Exec(sender.String(), int(rorg), time.Now().Unix(), dBm, dBm); err != nil {
		r.logError("recording sender", err)
	}
}

// RecordTeachIn records a teach-in telegram from sender.
func (r *Recorder) RecordTeachIn(sender esp3.Address, profile esp3.Profile, mfr esp3.Manufacturer, dBm int) {
	_, stmt := r.statements()
	if stmt == nil {
		return
	}

	var manufacturer sql.NullInt64
	if mfr != esp3.ManufacturerUnknown {
		manufacturer = sql.NullInt64{Int64: int64(mfr), Valid: true}
	}

	now := time.Now().Unix()
	if _, err := stmt.Exec(sender.String(), profile.String(), manufacturer, dBm, now, now); err != nil {
		r.logError("recording teach-in", err)
	}
}

// Senders returns all recorded senders, most recently heard first.
func (r *Recorder) Senders(ctx context.Context) ([]SenderRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, rorg, last_seen, message_count, last_dbm, best_dbm
		FROM enocean_senders
		ORDER BY last_seen DESC, address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying senders: %w", err)
	}
	defer rows.Close()

	var out []SenderRecord
	for rows.Next() {
		var (
			addr     string
			rorg     int
			lastSeen int64
			rec      SenderRecord
		)
		if err := rows.Scan(&addr, &rorg, &lastSeen, &rec.MessageCount, &rec.LastDBm, &rec.BestDBm); err != nil {
			return nil, fmt.Errorf("scanning sender: %w", err)
		}
		if rec.Address, err = esp3.ParseAddress(addr); err != nil {
			return nil, err
		}
		rec.RORG = esp3.RORG(rorg) //nolint:gosec // stored from a byte
		rec.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, rec)
	}

	return out, rows.Err()
}

// TeachIns returns all recorded teach-ins, most recent first.
func (r *Recorder) TeachIns(ctx context.Context) ([]TeachInRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, profile, manufacturer, dbm, first_seen, last_seen, teach_in_count
		FROM enocean_teach_ins
		ORDER BY last_seen DESC, address ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying teach-ins: %w", err)
	}
	defer rows.Close()

	var out []TeachInRecord
	for rows.Next() {
		var (
			addr, profile       string
			mfr                 sql.NullInt64
			firstSeen, lastSeen int64
			rec                 TeachInRecord
		)
		if err := rows.Scan(&addr, &profile, &mfr, &rec.DBm, &firstSeen, &lastSeen, &rec.Count); err != nil {
			return nil, fmt.Errorf("scanning teach-in: %w", err)
		}
		if rec.Address, err = esp3.ParseAddress(addr); err != nil {
			return nil, err
		}
		if rec.Profile, err = esp3.ParseProfile(profile); err != nil {
			return nil, err
		}
		rec.Manufacturer = esp3.ManufacturerUnknown
		if mfr.Valid {
			rec.Manufacturer = esp3.Manufacturer(mfr.Int64) //nolint:gosec // 11-bit id
		}
		rec.FirstSeen = time.Unix(firstSeen, 0)
		rec.LastSeen = time.Unix(lastSeen, 0)
		out = append(out, rec)
	}

	return out, rows.Err()
}

// SenderCount returns the number of distinct senders heard.
func (r *Recorder) SenderCount(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM enocean_senders`).Scan(&count)
	return count, err
}

func (r *Recorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
