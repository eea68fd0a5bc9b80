package service

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/wb-go/wbf/ginext"

	"linkhub/internal/cache"
	"linkhub/internal/clicks"
	"linkhub/internal/dto"
	"linkhub/internal/repo"
	"linkhub/pkg/validator"
)

type Service interface {
	CreateLink(ctx *ginext.Context)
	UpdateLink(ctx *ginext.Context)
	Redirect(ctx *ginext.Context)
	LinkStats(ctx *ginext.Context)
}

type LinkCache interface {
	Get(ctx context.Context, code string) (*cache.CachedLink, bool)
	Put(ctx context.Context, link *cache.CachedLink)
	Invalidate(ctx context.Context, code string)
}

type Recorder interface {
	Record(ctx context.Context, ev clicks.Event)
}

// LiveReader exposes the per-link live counter kept by the batched
// accounting mode. Nil in other modes.
type LiveReader interface {
	Live(ctx context.Context, linkID int64) (int64, error)
}

type service struct {
	repo       repo.Repository
	cache      LinkCache
	accountant Recorder
	live       LiveReader
	log        *zerolog.Logger
}

func NewService(repository repo.Repository, linkCache LinkCache, accountant Recorder, live LiveReader, log *zerolog.Logger) Service {
	return &service{
		repo:       repository,
		cache:      linkCache,
		accountant: accountant,
		live:       live,
		log:        log,
	}
}

func (s *service) CreateLink(ctx *ginext.Context) {
	var req struct {
		Destination    string     `json:"destination" validate:"required,url"`
		Code           *string    `json:"code,omitempty" validate:"omitempty,alphanum,min=3,max=30"`
		Active         *bool      `json:"active,omitempty"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
		ClickLimit     *int64     `json:"click_limit,omitempty" validate:"omitempty,min=1"`
		RedirectStatus *int       `json:"redirect_status,omitempty" validate:"omitempty,oneof=301 302 307 308"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		s.log.Error().Msgf("Invalid request body: %v", err)
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid request body")
		return
	}

	if err := validator.Validate(ctx.Request.Context(), req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
		return
	}

	code := ""
	if req.Code != nil {
		code = *req.Code
	} else {
		code = generateShortCode(6)
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}
	status := 302
	if req.RedirectStatus != nil {
		status = *req.RedirectStatus
	}

	entity := repo.LinkEntity{
		Code:           code,
		Destination:    req.Destination,
		Active:         active,
		ExpiresAt:      req.ExpiresAt,
		ClickLimit:     req.ClickLimit,
		RedirectStatus: status,
		CreatedAt:      time.Now(),
	}

	id, err := s.repo.CreateLink(ctx.Request.Context(), entity)
	if err != nil {
		var pgErr *pq.Error
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			dto.CodeAlreadyExistsError(ctx)
			return
		}
		s.log.Error().Msgf("Failed to create link: %v", err)
		dto.InternalServerError(ctx)
		return
	}
	entity.ID = id

	dto.SuccessCreatedResponse(ctx, toServiceLink(&entity))
}

func generateShortCode(n int) string {
	const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = letters[rand.Intn(len(letters))]
	}
	return string(b)
}

func (s *service) UpdateLink(ctx *ginext.Context) {
	code := ctx.Param("code")
	if code == "" {
		dto.FieldIncorrectError(ctx, "code")
		return
	}

	var req struct {
		Destination    *string    `json:"destination,omitempty" validate:"omitempty,url"`
		Active         *bool      `json:"active,omitempty"`
		ExpiresAt      *time.Time `json:"expires_at,omitempty"`
		ClickLimit     *int64     `json:"click_limit,omitempty" validate:"omitempty,min=1"`
		RedirectStatus *int       `json:"redirect_status,omitempty" validate:"omitempty,oneof=301 302 307 308"`
	}

	if err := ctx.ShouldBindJSON(&req); err != nil {
		dto.BadResponseError(ctx, dto.FieldBadFormat, "Invalid request body")
		return
	}
	if err := validator.Validate(ctx.Request.Context(), req); err != nil {
		dto.BadResponseError(ctx, dto.FieldIncorrect, err.Error())
		return
	}

	entity, err := s.repo.GetLinkByCode(ctx.Request.Context(), code)
	if err != nil {
		s.log.Error().Msgf("failed to load link %s: %v", code, err)
		dto.InternalServerError(ctx)
		return
	}
	if entity == nil {
		dto.LinkNotFoundError(ctx)
		return
	}

	if req.Destination != nil {
		entity.Destination = *req.Destination
	}
	if req.Active != nil {
		entity.Active = *req.Active
	}
	if req.ExpiresAt != nil {
		entity.ExpiresAt = req.ExpiresAt
	}
	if req.ClickLimit != nil {
		entity.ClickLimit = req.ClickLimit
	}
	if req.RedirectStatus != nil {
		entity.RedirectStatus = *req.RedirectStatus
	}

	if err := s.repo.UpdateLink(ctx.Request.Context(), *entity); err != nil {
		s.log.Error().Msgf("failed to update link %s: %v", code, err)
		dto.InternalServerError(ctx)
		return
	}

	// Stale projections must not serve the old destination or status.
	s.cache.Invalidate(ctx, code)

	dto.SuccessResponse(ctx, toServiceLink(entity))
}

func (s *service) Redirect(ctx *ginext.Context) {
	code := ctx.Param("code")
	if code == "" {
		dto.LinkNotFoundError(ctx)
		return
	}

	if link, ok := s.cache.Get(ctx, code); ok {
		s.track(ctx, link.ID, link.Limited)
		ctx.Redirect(link.RedirectStatus, link.Destination)
		return
	}

	entity, err := s.repo.GetActiveLinkByCode(ctx.Request.Context(), code)
	if err != nil {
		s.log.Error().Msgf("failed to resolve link %s: %v", code, err)
		dto.LinkNotFoundError(ctx)
		return
	}
	if entity == nil {
		dto.LinkNotFoundError(ctx)
		return
	}

	s.cache.Put(ctx, toCachedLink(entity))
	s.track(ctx, entity.ID, entity.Limited())

	ctx.Redirect(entity.RedirectStatus, entity.Destination)
}

// track captures the click context on the request path and hands the
// event to the accounting strategy off it. The timestamp is taken here,
// at click time, not at persistence time.
func (s *service) track(ctx *ginext.Context, linkID int64, limited bool) {
	ev := clicks.Event{
		LinkID:      linkID,
		IP:          ctx.ClientIP(),
		UserAgent:   ctx.GetHeader("User-Agent"),
		Referer:     ctx.GetHeader("Referer"),
		UTMSource:   ctx.Query("utm_source"),
		UTMMedium:   ctx.Query("utm_medium"),
		UTMCampaign: ctx.Query("utm_campaign"),
		UTMTerm:     ctx.Query("utm_term"),
		UTMContent:  ctx.Query("utm_content"),
		Limited:     limited,
		ClickedAt:   time.Now(),
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error().Msgf("panic in click recording: %v", r)
			}
		}()

		recordCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.accountant.Record(recordCtx, ev)
	}()
}

func (s *service) LinkStats(ctx *ginext.Context) {
	code := ctx.Param("code")
	if code == "" {
		dto.FieldIncorrectError(ctx, "code")
		return
	}

	entity, err := s.repo.GetLinkByCode(ctx.Request.Context(), code)
	if err != nil {
		s.log.Error().Msgf("failed to load link %s: %v", code, err)
		dto.InternalServerError(ctx)
		return
	}
	if entity == nil {
		dto.LinkNotFoundError(ctx)
		return
	}

	total, err := s.repo.CountClicks(ctx.Request.Context(), entity.ID)
	if err != nil {
		s.log.Error().Msgf("failed to count clicks for link %s: %v", code, err)
		dto.InternalServerError(ctx)
		return
	}

	var pending int64
	if s.live != nil {
		pending, err = s.live.Live(ctx, entity.ID)
		if err != nil {
			s.log.Warn().Msgf("failed to read live counter for link %s: %v", code, err)
			pending = 0
		}
	}

	countries, err := s.repo.GetClickStatsByField(ctx.Request.Context(), entity.ID, "country", 10)
	if err != nil {
		dto.InternalServerError(ctx)
		return
	}
	browsers, err := s.repo.GetClickStatsByField(ctx.Request.Context(), entity.ID, "browser", 10)
	if err != nil {
		dto.InternalServerError(ctx)
		return
	}

	dto.SuccessResponse(ctx, LinkStats{
		Link:          toServiceLink(entity),
		TotalClicks:   total,
		PendingClicks: pending,
		TopCountries:  countries,
		TopBrowsers:   browsers,
	})
}
