package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-discovery/internal/audit"
	"github.com/nerrad567/gray-logic-discovery/internal/device"
	"github.com/nerrad567/gray-logic-discovery/internal/discovery"
)

// maxScanDuration caps a scan requested over HTTP.
const maxScanDuration = 10 * time.Minute

// RecordResponse is one ledger record as returned by the API.
type RecordResponse struct {
	Identity    string            `json:"identity"`
	Label       string            `json:"label"`
	Properties  map[string]string `json:"properties,omitempty"`
	FirstSeenAt time.Time         `json:"first_seen_at"`
	LastSeenAt  time.Time         `json:"last_seen_at"`
	LastSeenAgo string            `json:"last_seen_ago"`
	ScanID      uint64            `json:"scan_id,omitempty"`
}

// StatsResponse is the engine, socket and ledger counters.
type StatsResponse struct {
	Protocol    string       `json:"protocol"`
	State       string       `json:"state"`
	Socket      SocketStats  `json:"socket"`
	Frames      FrameStats   `json:"frames"`
	Devices     DeviceStats  `json:"devices"`
	Listeners   ListenerInfo `json:"listeners"`
	LedgerSize  int          `json:"ledger_size"`
	ActiveScans int          `json:"active_scans"`
	Scans       uint64       `json:"scans_started"`
}

// SocketStats describes the UDP socket.
type SocketStats struct {
	State             string `json:"state"`
	FramesReceived    uint64 `json:"frames_received"`
	ReceiveErrors     uint64 `json:"receive_errors"`
	Rebinds           uint64 `json:"rebinds"`
	ReconnectFailures uint64 `json:"reconnect_failures"`
}

// FrameStats counts decoded and rejected frames.
type FrameStats struct {
	Decoded      uint64 `json:"decoded"`
	Malformed    uint64 `json:"malformed"`
	Unrecognized uint64 `json:"unrecognized"`
	Checksum     uint64 `json:"checksum"`
	Leaves       uint64 `json:"leaves"`
}

// DeviceStats counts discovery outcomes.
type DeviceStats struct {
	Discovered   uint64 `json:"discovered"`
	Vanished     uint64 `json:"vanished"`
	Duplicates   uint64 `json:"duplicates"`
	KnownSkipped uint64 `json:"known_skipped"`
	ResultErrors uint64 `json:"result_errors"`
}

// ListenerInfo describes listener delivery.
type ListenerInfo struct {
	Registered int    `json:"registered"`
	Dropped    uint64 `json:"events_dropped"`
	Panics     uint64 `json:"panics"`
	WebSockets int    `json:"websocket_clients"`
}

// ScanRequest is the optional body of POST /discovery/scan.
type ScanRequest struct {
	// Duration is a Go duration string. Empty uses the configured default.
	Duration string `json:"duration"`
}

// ScanNotice is broadcast on ChannelScan when a scan window opens.
type ScanNotice struct {
	ScanID   uint64 `json:"scan_id"`
	Duration string `json:"duration,omitempty"`
	Protocol string `json:"protocol"`
	Subject  string `json:"subject,omitempty"`
}

// ApproveRequest is the optional body of POST /discovery/inbox/{id}/approve.
type ApproveRequest struct {
	// Name overrides the announced label as the known-device name.
	Name string `json:"name"`
}

// handleListRecords returns the current ledger contents.
func (s *Server) handleListRecords(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.recordsPayload())
}

// recordsPayload is the body of GET /discovery/records and of WebSocket
// snapshot responses.
func (s *Server) recordsPayload() map[string]any {
	records := s.discovery.Records()
	now := time.Now()

	out := make([]RecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, RecordResponse{
			Identity:    rec.Identity,
			Label:       rec.Label,
			Properties:  rec.Properties,
			FirstSeenAt: rec.FirstSeenAt,
			LastSeenAt:  rec.LastSeenAt,
			LastSeenAgo: now.Sub(rec.LastSeenAt).Truncate(time.Second).String(),
			ScanID:      rec.ScanID,
		})
	}
	return map[string]any{"records": out, "count": len(out)}
}

// handleDiscoveryStats returns engine counters.
func (s *Server) handleDiscoveryStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.statsResponse())
}

func (s *Server) statsResponse() StatsResponse {
	st := s.discovery.Stats()
	resp := StatsResponse{
		Protocol: s.discovery.Protocol(),
		State:    st.State.String(),
		Socket: SocketStats{
			State:             "closed",
			FramesReceived:    st.Socket.FramesReceived,
			ReceiveErrors:     st.Socket.ReceiveErrors,
			Rebinds:           st.Socket.Rebinds,
			ReconnectFailures: st.Socket.ReconnectFailures,
		},
		Frames: FrameStats{
			Decoded:      st.FramesDecoded,
			Malformed:    st.DecodeMalformed,
			Unrecognized: st.DecodeUnrecognized,
			Checksum:     st.DecodeChecksum,
			Leaves:       st.Leaves,
		},
		Devices: DeviceStats{
			Discovered:   st.Discovered,
			Vanished:     st.Vanished,
			Duplicates:   st.Duplicates,
			KnownSkipped: st.KnownSkipped,
			ResultErrors: st.ResultErrors,
		},
		Listeners: ListenerInfo{
			Registered: st.Listeners,
			Dropped:    st.EventsDropped,
			Panics:     st.ListenerPanics,
			WebSockets: s.hub.ClientCount(),
		},
		LedgerSize:  st.LedgerSize,
		ActiveScans: st.ActiveScans,
		Scans:       st.ScansStarted,
	}
	if st.State == discovery.StateRunning {
		resp.Socket.State = st.Socket.State.String()
	}
	return resp
}

// handleScan opens a scan window on the running engine.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req ScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	var d time.Duration
	if req.Duration != "" {
		parsed, err := time.ParseDuration(req.Duration)
		if err != nil || parsed <= 0 || parsed > maxScanDuration {
			writeError(w, http.StatusBadRequest, ErrCodeValidation,
				fmt.Sprintf("duration must be a positive Go duration up to %s", maxScanDuration))
			return
		}
		d = parsed
	}

	id, err := s.discovery.Scan(d)
	if err != nil {
		if errors.Is(err, discovery.ErrNotRunning) || errors.Is(err, discovery.ErrEngineStopped) {
			writeUnavailable(w, "discovery engine is not running")
			return
		}
		writeInternalError(w, "failed to start scan")
		return
	}

	scanID := strconv.FormatUint(id, 10)
	details := map[string]string{}
	if req.Duration != "" {
		details["duration"] = req.Duration
	}
	s.recordAudit(r, audit.ActionScan, audit.EntityScan, scanID, details)
	s.hub.Broadcast(ChannelScan, ScanNotice{
		ScanID:   id,
		Duration: req.Duration,
		Protocol: s.discovery.Protocol(),
		Subject:  subject(r),
	})

	writeJSON(w, http.StatusAccepted, map[string]any{
		"scan_id":  id,
		"duration": req.Duration,
	})
}

// handleListInbox returns inbox entries, optionally filtered by status.
func (s *Server) handleListInbox(w http.ResponseWriter, r *http.Request) {
	status := device.InboxStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "status must be pending, approved or ignored")
		return
	}

	entries, err := s.inbox.List(r.Context(), status)
	if err != nil {
		writeInternalError(w, "failed to list inbox")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// handleGetInboxEntry returns a single inbox entry.
func (s *Server) handleGetInboxEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.inbox.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, device.ErrInboxEntryNotFound) {
			writeNotFound(w, "inbox entry not found")
			return
		}
		writeInternalError(w, "failed to get inbox entry")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// handleApproveInboxEntry promotes an inbox entry to a known device.
func (s *Server) handleApproveInboxEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req ApproveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	known, err := s.devices.Approve(r.Context(), id, req.Name)
	if err != nil {
		switch {
		case errors.Is(err, device.ErrInboxEntryNotFound):
			writeNotFound(w, "inbox entry not found")
		case errors.Is(err, device.ErrDeviceExists):
			writeConflict(w, "device is already known")
		case errors.Is(err, device.ErrInvalidDevice):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		default:
			writeInternalError(w, "failed to approve inbox entry")
		}
		return
	}

	s.logger.Info("inbox entry approved",
		"inbox_id", id,
		"identity", known.Identity,
		"subject", subject(r),
	)
	s.recordAudit(r, audit.ActionApprove, audit.EntityInboxEntry, id, map[string]string{
		"identity": known.Identity,
		"name":     known.Name,
	})
	writeJSON(w, http.StatusOK, known)
}

// handleIgnoreInboxEntry marks an inbox entry as ignored.
func (s *Server) handleIgnoreInboxEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	entry, err := s.devices.Ignore(r.Context(), id)
	if err != nil {
		if errors.Is(err, device.ErrInboxEntryNotFound) {
			writeNotFound(w, "inbox entry not found")
			return
		}
		writeInternalError(w, "failed to ignore inbox entry")
		return
	}

	s.logger.Info("inbox entry ignored",
		"inbox_id", id,
		"identity", entry.Identity,
		"subject", subject(r),
	)
	s.recordAudit(r, audit.ActionIgnore, audit.EntityInboxEntry, id, map[string]string{
		"identity": entry.Identity,
	})
	writeJSON(w, http.StatusOK, entry)
}

func subject(r *http.Request) string {
	if c := claimsFromContext(r.Context()); c != nil {
		return c.Subject
	}
	return ""
}
