// Package influx writes derived markers to InfluxDB as line-protocol points,
// falling back to a gzip line-protocol file when the server is unreachable.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"github.com/OCAP2/markers/internal/config"
	"github.com/OCAP2/markers/pkg/core"
)

// Measurement is the measurement name of derived marker points.
const Measurement = "marker"

const (
	defaultBucket   = "markers"
	retentionPeriod = 30 * 24 * time.Hour
	batchSize       = 2500
	flushIntervalMs = 1000
	requestTimeoutS = 5
)

// Sink accepts marker points. Online sinks batch them to the server through
// the client's async write API; offline sinks append them to the backup file.
type Sink struct {
	cfg config.InfluxConfig
	log zerolog.Logger

	client influxdb2.Client
	writer api.WriteAPI
	points int

	file   *os.File
	backup *gzip.Writer
}

// URL is the server address cfg points at.
func URL(cfg config.InfluxConfig) string {
	return fmt.Sprintf("%s://%s:%s", cfg.Protocol, cfg.Host, cfg.Port)
}

// Open pings the server and prepares its org and bucket. When the ping
// fails the sink writes to cfg.BackupPath instead, which must then be set.
func Open(ctx context.Context, cfg config.InfluxConfig, log zerolog.Logger) (*Sink, error) {
	if cfg.Bucket == "" {
		cfg.Bucket = defaultBucket
	}
	s := &Sink{cfg: cfg, log: log}

	s.client = influxdb2.NewClientWithOptions(URL(cfg), cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushIntervalMs).
			SetHTTPRequestTimeout(requestTimeoutS))

	if up, err := s.client.Ping(ctx); err != nil || !up {
		s.client.Close()
		s.client = nil
		log.Warn().Err(err).Str("url", URL(cfg)).Str("backup", cfg.BackupPath).Msg("InfluxDB unreachable, writing backup file")
		if err := s.openBackup(); err != nil {
			return nil, err
		}
		return s, nil
	}

	if err := s.ensureBucket(ctx); err != nil {
		s.client.Close()
		return nil, err
	}
	s.writer = s.client.WriteAPI(cfg.Org, cfg.Bucket)
	go s.logWriteErrors(s.writer.Errors())
	log.Info().Str("url", URL(cfg)).Str("bucket", cfg.Bucket).Msg("InfluxDB connected")
	return s, nil
}

func (s *Sink) openBackup() error {
	if s.cfg.BackupPath == "" {
		return errors.New("influxDB unreachable and no backup path configured")
	}
	f, err := os.OpenFile(s.cfg.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open influx backup: %w", err)
	}
	s.file = f
	s.backup = gzip.NewWriter(f)
	return nil
}

// ensureBucket creates the org and the bucket, with a 30 day retention, when
// they do not exist yet.
func (s *Sink) ensureBucket(ctx context.Context) error {
	orgs := s.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, s.cfg.Org)
	if err != nil {
		s.log.Info().Str("org", s.cfg.Org).Msg("Creating InfluxDB organization")
		if org, err = orgs.CreateOrganizationWithName(ctx, s.cfg.Org); err != nil {
			return fmt.Errorf("create influx org %q: %w", s.cfg.Org, err)
		}
	}

	buckets := s.client.BucketsAPI()
	if _, err := buckets.FindBucketByName(ctx, s.cfg.Bucket); err == nil {
		return nil
	}
	s.log.Info().Str("bucket", s.cfg.Bucket).Msg("Creating InfluxDB bucket")
	expire := domain.RetentionRuleTypeExpire
	_, err = buckets.CreateBucketWithName(ctx, org, s.cfg.Bucket, domain.RetentionRule{
		Type:         &expire,
		EverySeconds: int64(retentionPeriod / time.Second),
	})
	if err != nil {
		return fmt.Errorf("create influx bucket %q: %w", s.cfg.Bucket, err)
	}
	return nil
}

// async write failures surface only on this channel, which the client
// closes on Close
func (s *Sink) logWriteErrors(errs <-chan error) {
	for err := range errs {
		s.log.Error().Err(err).Str("bucket", s.cfg.Bucket).Msg("InfluxDB write failed")
	}
}

// Online reports whether points reach the server rather than the backup file.
func (s *Sink) Online() bool {
	return s.writer != nil
}

// Write queues p for the server or appends it to the backup file.
func (s *Sink) Write(p *write.Point) error {
	switch {
	case s.writer != nil:
		s.writer.WritePoint(p)
	case s.backup != nil:
		line := write.PointToLineProtocol(p, time.Nanosecond)
		if _, err := s.backup.Write([]byte(line + "\n")); err != nil {
			return fmt.Errorf("write influx backup: %w", err)
		}
	default:
		return errors.New("influx sink closed")
	}
	s.points++
	return nil
}

// Close flushes queued points and releases the client or backup file.
func (s *Sink) Close() error {
	s.log.Debug().Int("points", s.points).Bool("online", s.Online()).Msg("Closing InfluxDB sink")
	if s.client != nil {
		s.writer.Flush()
		s.client.Close()
		s.client, s.writer = nil, nil
	}

	var errs []error
	if s.backup != nil {
		errs = append(errs, s.backup.Close())
		s.backup = nil
	}
	if s.file != nil {
		errs = append(errs, s.file.Close())
		s.file = nil
	}
	return errors.Join(errs...)
}

// MarkerPoint builds the point of one derived marker. origin is the wall
// clock time of profile time zero.
func MarkerPoint(profileName, thread string, pid int, origin time.Time, m core.DerivedMarker) *write.Point {
	p := write.NewPointWithMeasurement(Measurement).
		AddTag("profile", profileName).
		AddTag("thread", thread).
		AddTag("pid", strconv.Itoa(pid)).
		AddTag("name", m.Name).
		AddField("start", m.Start).
		AddField("duration", m.Dur).
		AddField("category", m.Category).
		AddField("incomplete", m.Incomplete).
		SetTime(origin.Add(time.Duration(m.Start * float64(time.Millisecond))))
	if m.Data != nil {
		p.AddTag("payload_type", m.Data.PayloadType())
	}
	if m.Title != "" {
		p.AddField("title", m.Title)
	}
	return p
}
