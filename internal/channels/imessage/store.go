// Copyright 2025 New Relic Corporation. All rights reserved.
// SPDX-License-Identifier: Apache-2.0

package imessage

import (
	"database/sql"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"github.com/hyvehq/relay-agent/pkg/envelope"
)

// appleEpoch is 2001-01-01T00:00:00Z, the zero point of chat.db timestamps.
const appleEpoch = 978307200

// pollLimit caps the rows one poll may return.
const pollLimit = 100

// groupChatPrefix marks a conversation id as a group chat guid. Direct
// conversations use the raw handle id instead.
const groupChatPrefix = "chat"

// store reads the local message database with a monotonic watermark so no row
// is ever emitted twice and history is never replayed.
type store struct {
	db        *sqlx.DB
	watermark int64
}

// openStore opens the database read-only and primes the watermark with the
// current maximum row id, so only rows that arrive after this instant are
// ever emitted.
func openStore(path string) (*store, error) {
	db, err := sqlx.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, errors.Wrap(err, "unable to open the message store")
	}
	return newStore(db)
}

// newStore primes the watermark over an already open handle.
func newStore(db *sqlx.DB) (*store, error) {
	var max sql.NullInt64
	if err := db.Get(&max, "SELECT MAX(ROWID) FROM message"); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "unable to read the message store watermark")
	}

	return &store{db: db, watermark: max.Int64}, nil
}

func (s *store) close() error {
	return s.db.Close()
}

// messageRow is one joined row of the poll query.
type messageRow struct {
	RowID          int64          `db:"rowid"`
	GUID           string         `db:"guid"`
	Text           sql.NullString `db:"text"`
	Date           int64          `db:"date"`
	HandleID       sql.NullString `db:"handle_id"`
	ChatGUID       sql.NullString `db:"chat_guid"`
	ChatName       sql.NullString `db:"chat_name"`
	ChatStyle      sql.NullInt64  `db:"chat_style"`
	HasAttachments bool           `db:"cache_has_attachments"`
}

// chat.db style 43 is a group chat; 45 is one-to-one.
const chatStyleGroup = 43

const pollQuery = `
SELECT m.ROWID AS rowid,
       m.guid AS guid,
       m.text AS text,
       m.date AS date,
       h.id AS handle_id,
       c.guid AS chat_guid,
       c.display_name AS chat_name,
       c.style AS chat_style,
       m.cache_has_attachments AS cache_has_attachments
FROM message m
LEFT JOIN handle h ON h.ROWID = m.handle_id
LEFT JOIN chat_message_join cmj ON cmj.message_id = m.ROWID
LEFT JOIN chat c ON c.ROWID = cmj.chat_id
WHERE m.ROWID > ?
  AND m.is_from_me = 0
  AND m.associated_message_type = 0
ORDER BY m.ROWID
LIMIT ?`

type attachmentRow struct {
	MimeType     sql.NullString `db:"mime_type"`
	TransferName sql.NullString `db:"transfer_name"`
	GUID         string         `db:"guid"`
	TotalBytes   int64          `db:"total_bytes"`
}

const attachmentQuery = `
SELECT a.mime_type AS mime_type,
       a.transfer_name AS transfer_name,
       a.guid AS guid,
       a.total_bytes AS total_bytes
FROM attachment a
JOIN message_attachment_join maj ON maj.attachment_id = a.ROWID
WHERE maj.message_id = ?
ORDER BY a.ROWID`

// poll returns the envelopes for every new inbound row and advances the
// watermark. The watermark only moves when the whole poll succeeded.
func (s *store) poll() ([]envelope.Ingress, error) {
	var rows []messageRow
	if err := s.db.Select(&rows, pollQuery, s.watermark, pollLimit); err != nil {
		return nil, errors.Wrap(err, "message poll failed")
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var envs []envelope.Ingress
	for _, row := range rows {
		env := s.buildEnvelope(row)

		if row.HasAttachments {
			var atts []attachmentRow
			if err := s.db.Select(&atts, attachmentQuery, row.RowID); err != nil {
				return nil, errors.Wrap(err, "attachment fetch failed")
			}
			for _, att := range atts {
				env.Media = append(env.Media, envelope.Media{
					Kind:      kindFromMime(att.MimeType.String),
					Reference: att.GUID,
					MimeType:  att.MimeType.String,
					FileName:  att.TransferName.String,
					Size:      att.TotalBytes,
				})
			}
		}

		if env.Text == "" && len(env.Media) == 0 {
			continue
		}
		envs = append(envs, env)
	}

	s.watermark = rows[len(rows)-1].RowID
	return envs, nil
}

func (s *store) buildEnvelope(row messageRow) envelope.Ingress {
	env := envelope.Ingress{
		Channel:           "imessage",
		PlatformMessageID: row.GUID,
		PeerID:            row.HandleID.String,
		Text:              row.Text.String,
		Timestamp:         envelope.Time(appleTime(row.Date)),
	}

	if row.ChatStyle.Valid && row.ChatStyle.Int64 == chatStyleGroup {
		env.IsGroup = true
		env.ConversationID = row.ChatGUID.String
		env.GroupName = row.ChatName.String
	} else {
		env.ConversationID = row.HandleID.String
	}
	return env
}

// appleTime converts a chat.db date into wall time. Modern databases store
// nanoseconds since the Apple epoch, older ones plain seconds.
func appleTime(date int64) time.Time {
	seconds := date
	if date > 1e12 {
		seconds = date / 1e9
	}
	return time.Unix(appleEpoch+seconds, 0).UTC()
}

func kindFromMime(mime string) envelope.MediaKind {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return envelope.MediaImage
	case strings.HasPrefix(mime, "video/"):
		return envelope.MediaVideo
	case strings.HasPrefix(mime, "audio/"):
		return envelope.MediaAudio
	default:
		return envelope.MediaDocument
	}
}
