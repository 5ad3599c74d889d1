package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/xtxerr/pick9/internal/errors"
	"github.com/xtxerr/pick9/internal/logging"
	"github.com/xtxerr/pick9/internal/storage/parquet"
	"github.com/xtxerr/pick9/internal/storage/snapshot"
)

// SeqHeader carries the merge sequence number a response reflects.
const SeqHeader = "X-Pick9-Seq"

// TotalResponse is the body of a successful submission and of GET /total.
type TotalResponse struct {
	Total string `json:"total"`
	Seq   uint64 `json:"seq,omitempty"`
}

// =============================================================================
// Ingest
// =============================================================================

// handleIngest decodes a batch and merges it into the store.
func (s *Server) handleIngest(c *gin.Context) {
	ctx := c.Request.Context()
	reqLog := logging.WithContext(ctx)

	if !s.inFlight.TryAcquire(1) {
		s.store.RecordRejected()
		respondError(c, errors.ErrBusy)
		return
	}
	defer s.inFlight.Release(1)

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes))
	if err != nil {
		s.store.RecordRejected()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(c, fmt.Errorf("limit %d bytes: %w", tooLarge.Limit, errors.ErrTooLarge))
			return
		}
		respondError(c, fmt.Errorf("read body: %v: %w", err, errors.ErrInvalidBatch))
		return
	}

	batch, err := snapshot.DecodeBatch(s.store.Schema(), body)
	if err != nil {
		s.store.RecordRejected()
		reqLog.Warn("rejected batch", "error", err)
		respondError(c, err)
		return
	}

	total, err := s.store.Add(ctx, batch)
	if err != nil {
		// On a persistence failure the batch is merged; the submitter
		// still gets a server error.
		respondError(c, err)
		return
	}

	reqLog.Info("batch accepted",
		"trials", batch.GrandTotal().String(),
		"total", total.String())
	c.JSON(http.StatusOK, TotalResponse{Total: total.String()})
}

// =============================================================================
// Reads
// =============================================================================

func (s *Server) handleTotal(c *gin.Context) {
	if err := s.store.Ready(); err != nil {
		respondError(c, err)
		return
	}

	snap, seq := s.store.Snapshot()
	c.Header(SeqHeader, strconv.FormatUint(seq, 10))
	c.JSON(http.StatusOK, TotalResponse{Total: snap.GrandTotal().String(), Seq: seq})
}

type encodedSnapshot struct {
	data []byte
	seq  uint64
}

// handleSnapshot serves the encoded total. Concurrent callers share one
// encoding.
func (s *Server) handleSnapshot(c *gin.Context) {
	if err := s.store.Ready(); err != nil {
		respondError(c, err)
		return
	}

	v, err, _ := s.flight.Do("snapshot", func() (interface{}, error) {
		data, seq, err := s.store.EncodedSnapshot()
		if err != nil {
			return nil, err
		}
		return encodedSnapshot{data: data, seq: seq}, nil
	})
	if err != nil {
		respondError(c, err)
		return
	}

	snap := v.(encodedSnapshot)
	c.Header(SeqHeader, strconv.FormatUint(snap.seq, 10))
	c.Data(http.StatusOK, "application/json", snap.data)
}

func (s *Server) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.store.Stats())
}

// handleExport serves the current total as a Parquet file. The optional
// compression query parameter selects the codec.
func (s *Server) handleExport(c *gin.Context) {
	if err := s.store.Ready(); err != nil {
		respondError(c, err)
		return
	}

	ct, err := parquet.ParseCompressionType(c.Query("compression"))
	if err != nil {
		respond(c, http.StatusBadRequest, errors.CodeInvalidRequest, err)
		return
	}

	snap, seq := s.store.Snapshot()

	var buf bytes.Buffer
	if err := parquet.WriteSnapshot(&buf, snap, parquet.Options{Compression: ct}); err != nil {
		logging.WithContext(c.Request.Context()).Error("export failed", "error", err)
		respondError(c, fmt.Errorf("export: %v: %w", err, errors.ErrInternal))
		return
	}

	c.Header(SeqHeader, strconv.FormatUint(seq, 10))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="pick9-%d.parquet"`, seq))
	c.Data(http.StatusOK, "application/vnd.apache.parquet", buf.Bytes())
}

// handleHealth reports 200 while the store accepts batches and the server
// is not draining.
func (s *Server) handleHealth(c *gin.Context) {
	if s.draining() {
		respondError(c, errors.ErrClosed)
		return
	}
	if err := s.store.Ready(); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
