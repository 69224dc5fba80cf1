package service

import (
	"context"
	"net/url"
	"strings"
	"time"

	"TrendGate/internal/biz"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Pipeline is the part of the executor the service drives.
type Pipeline interface {
	Execute(ctx context.Context, spec biz.RequestSpec) (*biz.Response, error)
	Stats() biz.Stats
	Reset(ctx context.Context, forgetSession bool) error
	Profiles() []biz.IdentityProfile
}

// FetchRequest asks for one upstream fetch.
type FetchRequest struct {
	Endpoint   string              `json:"endpoint"`
	Params     map[string][]string `json:"params,omitempty"`
	Priority   string              `json:"priority,omitempty"`
	MaxRetries int                 `json:"max_retries,omitempty"`
}

// FetchReply carries the upstream response, or the skip decision.
type FetchReply struct {
	Status     int    `json:"status,omitempty"`
	FinalURL   string `json:"final_url,omitempty"`
	ProfileID  string `json:"profile_id,omitempty"`
	Attempts   int    `json:"attempts"`
	DurationMs int64  `json:"duration_ms"`
	Body       string `json:"body,omitempty"`
	Skipped    bool   `json:"skipped,omitempty"`
	SkipLevel  string `json:"skip_level,omitempty"`
}

// TrendsRequest fetches a trend feed and summarizes it.
type TrendsRequest struct {
	FetchRequest
	Topics []int `json:"topics,omitempty"`
	Top    int   `json:"top,omitempty"`
}

// TrendsReply is the filtered feed with its summary.
type TrendsReply struct {
	Summary  biz.TrendSummary `json:"summary"`
	Items    []biz.TrendItem  `json:"items"`
	Attempts int              `json:"attempts"`
	Skipped  bool             `json:"skipped,omitempty"`
}

// ResetRequest clears pipeline state.
type ResetRequest struct {
	ForgetSession bool `json:"forget_session"`
}

// ResetReply acknowledges a reset.
type ResetReply struct {
	Reset         bool `json:"reset"`
	SessionForgot bool `json:"session_forgotten"`
}

// ProfilesReply lists the identity profile table.
type ProfilesReply struct {
	Profiles []biz.IdentityProfile `json:"profiles"`
}

// GatewayService implements the HTTP API over the executor.
type GatewayService struct {
	pipeline Pipeline
	logger   *log.Helper
	now      func() time.Time
}

// NewGatewayService creates a new GatewayService instance.
func NewGatewayService(p Pipeline, logger log.Logger) *GatewayService {
	return &GatewayService{pipeline: p, logger: log.NewHelper(logger), now: time.Now}
}

func (r *FetchRequest) spec() (biz.RequestSpec, error) {
	if strings.TrimSpace(r.Endpoint) == "" {
		return biz.RequestSpec{}, errors.BadRequest(biz.ReasonInvalidRequest, "endpoint is required")
	}
	p := biz.PriorityMedium
	if r.Priority != "" {
		var err error
		if p, err = biz.ParsePriority(r.Priority); err != nil {
			return biz.RequestSpec{}, errors.BadRequest(biz.ReasonInvalidRequest, err.Error())
		}
	}
	return biz.RequestSpec{
		Endpoint:   r.Endpoint,
		Params:     url.Values(r.Params),
		Priority:   p,
		MaxRetries: r.MaxRetries,
	}, nil
}

// Fetch executes one request through the pipeline.
func (s *GatewayService) Fetch(ctx context.Context, req *FetchRequest) (*FetchReply, error) {
	spec, err := req.spec()
	if err != nil {
		return nil, err
	}
	s.logger.Debugw("msg", "Fetch called", "endpoint", req.Endpoint, "priority", spec.Priority.String())

	resp, err := s.pipeline.Execute(ctx, spec)
	if err != nil {
		s.logger.Warnw("msg", "fetch failed", "endpoint", req.Endpoint, "reason", errors.Reason(err), "error", err)
		return nil, err
	}

	reply := &FetchReply{Attempts: resp.Attempts, DurationMs: resp.Duration.Milliseconds()}
	if resp.Skipped() {
		reply.Skipped = true
		reply.SkipLevel = resp.Skip.Level.String()
		return reply, nil
	}
	reply.Status = resp.StatusCode
	reply.FinalURL = resp.FinalURL
	reply.ProfileID = resp.ProfileID
	reply.Body = string(resp.Body)
	return reply, nil
}

// Trends fetches a trend feed, then filters and summarizes it.
func (s *GatewayService) Trends(ctx context.Context, req *TrendsRequest) (*TrendsReply, error) {
	spec, err := req.spec()
	if err != nil {
		return nil, err
	}
	resp, err := s.pipeline.Execute(ctx, spec)
	if err != nil {
		return nil, err
	}
	if resp.Skipped() {
		return &TrendsReply{Skipped: true, Attempts: resp.Attempts, Items: []biz.TrendItem{}}, nil
	}

	list, err := biz.DecodeTrendList(resp.Body)
	if err != nil {
		s.logger.Errorw("msg", "undecodable trend feed", "endpoint", req.Endpoint, "error", err)
		return nil, errors.New(502, "TREND_DECODE", "upstream returned an undecodable trend feed").WithCause(err)
	}
	if len(req.Topics) > 0 {
		list = list.FilterByTopic(req.Topics...)
	}
	if req.Top > 0 {
		list = list.Top(req.Top)
	}
	return &TrendsReply{
		Summary:  list.Summarize(s.now()),
		Items:    list.Items(),
		Attempts: resp.Attempts,
	}, nil
}

// Stats returns the pipeline snapshot.
func (s *GatewayService) Stats(_ context.Context) (*biz.Stats, error) {
	st := s.pipeline.Stats()
	return &st, nil
}

// Reset clears throttling state, optionally dropping the saved session.
func (s *GatewayService) Reset(ctx context.Context, req *ResetRequest) (*ResetReply, error) {
	s.logger.Infow("msg", "Reset called", "forget_session", req.ForgetSession)
	if err := s.pipeline.Reset(ctx, req.ForgetSession); err != nil {
		s.logger.Errorw("msg", "failed to reset pipeline", "error", err)
		return nil, errors.InternalServer("RESET_FAILED", "failed to clear saved session").WithCause(err)
	}
	return &ResetReply{Reset: true, SessionForgot: req.ForgetSession}, nil
}

// Profiles lists configured identity profiles.
func (s *GatewayService) Profiles(_ context.Context) (*ProfilesReply, error) {
	return &ProfilesReply{Profiles: s.pipeline.Profiles()}, nil
}
