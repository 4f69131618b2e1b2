package posts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gitsmash/mapid/internal/config"
	"github.com/gitsmash/mapid/internal/domain/enums"
	"github.com/gitsmash/mapid/internal/domain/model"
	"github.com/gitsmash/mapid/internal/services/images"
	"github.com/gitsmash/mapid/internal/services/location"
	"github.com/gitsmash/mapid/internal/services/moderation"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrUnknownCategory = errors.New("unknown category")
	ErrContentRejected = errors.New("content rejected by moderation")
	ErrNotFound        = errors.New("post not found")
	ErrForbidden       = errors.New("not allowed")
	ErrPostExpired     = errors.New("post has expired")
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 5000
)

// StoreTx is the transactional slice of the store. Everything called inside
// InTx commits or rolls back together.
type StoreTx interface {
	CreateDraft(ctx context.Context, post *model.Post) error
	CreateImage(ctx context.Context, img *model.PostImage) error
	SoftDeletePost(ctx context.Context, id int64) error
	SoftDeleteImages(ctx context.Context, postID int64) error
	HardDeletePost(ctx context.Context, id int64) error
	HardDeleteImages(ctx context.Context, postID int64) ([]string, error)
}

type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx StoreTx) error) error
	GetPost(ctx context.Context, id int64) (model.Post, error)
	UpdatePost(ctx context.Context, post *model.Post) error
	ListImages(ctx context.Context, postID int64) ([]model.PostImage, error)
	ListImageObjectKeys(ctx context.Context, postID int64) ([]string, error)
	GetImage(ctx context.Context, id int64) (model.PostImage, error)
	SetPrimaryImage(ctx context.Context, postID, imageID int64) error
	UpdateImageModeration(ctx context.Context, imageID int64, to enums.ModerationStatus) error
}

type Locator interface {
	Validate(lat, lng float64, reference *location.Point) location.Validation
	ApplyPrivacyFuzz(lat, lng float64) (float64, float64)
	Geocode(ctx context.Context, address string) *location.Result
	ReverseGeocode(ctx context.Context, lat, lng float64) *location.Result
}

type Moderator interface {
	ScoreText(text string) moderation.Verdict
	ScoreImage(ctx context.Context, image []byte) moderation.Verdict
	ShouldAutoReject(verdict moderation.SubmissionVerdict) bool
	ShouldAutoRejectImage(verdict moderation.Verdict) bool
}

type Deriver interface {
	Derive(data []byte, filename string) (map[enums.Variant]images.Derived, error)
}

type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}

type Counters interface {
	IncrementView(ctx context.Context, postID int64) error
	IncrementLike(ctx context.Context, postID int64) error
	DecrementLike(ctx context.Context, postID int64) error
}

// KeyBuilder produces the object key for one uploaded variant.
type KeyBuilder func(userID, postID int64, variant enums.Variant, ext string) string

type Config struct {
	ImageWorkers  int
	SubmitTimeout time.Duration
	Categories    []config.CategoryConfig
}

// Service orchestrates the submission pipeline: location checks, moderation,
// image derivation, object uploads and the final transactional persist.
type Service struct {
	store    Store
	locator  Locator
	mod      Moderator
	deriver  Deriver
	storage  ObjectStorage
	counters Counters
	buildKey KeyBuilder
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	store Store,
	locator Locator,
	mod Moderator,
	deriver Deriver,
	storage ObjectStorage,
	counters Counters,
	buildKey KeyBuilder,
	cfg Config,
	logger *zap.Logger,
) *Service {
	if cfg.ImageWorkers <= 0 {
		cfg.ImageWorkers = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		store:    store,
		locator:  locator,
		mod:      mod,
		deriver:  deriver,
		storage:  storage,
		counters: counters,
		buildKey: buildKey,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type ImageUpload struct {
	Filename string
	Data     []byte
}

type CreateInput struct {
	UserID      int64
	Category    string
	Title       string
	Description string

	// Either exact coordinates or a free-text address to geocode.
	Lat     float64
	Lng     float64
	Address string

	// Optional anchor the submission must stay within radius of.
	Reference *location.Point

	CategoryData map[string]any
	ExpiresAt    *time.Time
	Images       []ImageUpload
}

type CreateResult struct {
	PostID   int64
	Warnings []string
}

// Create runs the full pipeline for one submission. Moderation rejection and
// validation failures abort before anything is persisted; per-image failures
// degrade to warnings so one bad file never sinks the whole post.
func (s *Service) Create(ctx context.Context, in CreateInput) (CreateResult, error) {
	if s.store == nil || s.locator == nil || s.mod == nil {
		return CreateResult{}, fmt.Errorf("posts service dependencies are not configured")
	}

	if s.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SubmitTimeout)
		defer cancel()
	}

	category, warnings, err := s.validateInput(&in)
	if err != nil {
		return CreateResult{}, err
	}

	lat, lng := in.Lat, in.Lng
	if lat == 0 && lng == 0 && strings.TrimSpace(in.Address) != "" {
		resolved := s.locator.Geocode(ctx, in.Address)
		if resolved == nil {
			return CreateResult{}, fmt.Errorf("%w: address could not be resolved", ErrValidation)
		}
		lat, lng = resolved.Lat, resolved.Lng
	}

	validation := s.locator.Validate(lat, lng, in.Reference)
	if !validation.IsValid {
		return CreateResult{}, fmt.Errorf("%w: %s", ErrValidation, validation.ErrorMessage)
	}
	warnings = append(warnings, validation.Warnings...)

	textVerdict := s.mod.ScoreText(in.Title + " " + in.Description)
	if textVerdict.Flagged {
		if s.mod.ShouldAutoReject(moderation.SubmissionVerdict{Flagged: true, Text: textVerdict}) {
			return CreateResult{}, fmt.Errorf("%w: %s", ErrContentRejected, textVerdict.Reason)
		}
		warnings = append(warnings, "content_flagged_for_review")
	}

	post := s.buildDraft(in, category, lat, lng)
	s.fillDisplayLocation(ctx, post, lat, lng)

	if len(in.Images) > 0 {
		if s.deriver == nil || s.storage == nil {
			return CreateResult{}, fmt.Errorf("image pipeline dependencies are not configured")
		}
		if err := s.storage.EnsureBucket(ctx); err != nil {
			return CreateResult{}, fmt.Errorf("ensure bucket: %w", err)
		}
	}

	var processed []processedImage
	err = s.store.InTx(ctx, func(ctx context.Context, tx StoreTx) error {
		if err := tx.CreateDraft(ctx, post); err != nil {
			return err
		}

		processed = s.processImages(ctx, in.UserID, post.ID, in.Images)

		primaryAssigned := false
		order := 0
		for i := range processed {
			p := &processed[i]
			if p.warning != "" {
				warnings = append(warnings, p.warning)
			}
			if p.skipped {
				continue
			}

			img := &model.PostImage{
				PostID:           post.ID,
				UserID:           in.UserID,
				OriginalFilename: p.filename,
				FileSize:         p.size,
				MimeType:         p.mime,
				ObjectKeys:       p.keys,
				URLs:             p.urls,
				ModerationStatus: p.status,
				DisplayOrder:     order,
			}
			if !primaryAssigned && img.IsApproved() {
				img.IsPrimary = true
				primaryAssigned = true
			}
			if err := tx.CreateImage(ctx, img); err != nil {
				return fmt.Errorf("persist image %d: %w", i, err)
			}
			order++
		}

		return nil
	})
	if err != nil {
		s.compensateUploads(ctx, processed)
		return CreateResult{}, fmt.Errorf("create post: %w", err)
	}

	s.logger.Info("post created",
		zap.Int64("post_id", post.ID),
		zap.Int64("user_id", in.UserID),
		zap.String("category", post.CategoryName),
		zap.Int("images", len(in.Images)),
		zap.Strings("warnings", warnings),
	)

	return CreateResult{PostID: post.ID, Warnings: warnings}, nil
}

func (s *Service) validateInput(in *CreateInput) (config.CategoryConfig, []string, error) {
	if in.UserID <= 0 {
		return config.CategoryConfig{}, nil, fmt.Errorf("%w: user id is required", ErrValidation)
	}

	in.Title = strings.TrimSpace(in.Title)
	in.Description = strings.TrimSpace(in.Description)
	if in.Title == "" {
		return config.CategoryConfig{}, nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if len(in.Title) > maxTitleLen {
		return config.CategoryConfig{}, nil, fmt.Errorf("%w: title too long", ErrValidation)
	}
	if len(in.Description) > maxDescriptionLen {
		return config.CategoryConfig{}, nil, fmt.Errorf("%w: description too long", ErrValidation)
	}

	category, ok := s.categoryByName(in.Category)
	if !ok {
		return config.CategoryConfig{}, nil, fmt.Errorf("%w: %q", ErrUnknownCategory, in.Category)
	}

	if category.RequiresTime && !hasCategoryField(in.CategoryData, "time") {
		return config.CategoryConfig{}, nil, fmt.Errorf("%w: category %s requires a time", ErrValidation, category.Name)
	}
	if category.RequiresPrice && !hasCategoryField(in.CategoryData, "price") {
		return config.CategoryConfig{}, nil, fmt.Errorf("%w: category %s requires a price", ErrValidation, category.Name)
	}

	var warnings []string
	if category.MaxPhotos > 0 && len(in.Images) > category.MaxPhotos {
		warnings = append(warnings, fmt.Sprintf("photo_limit_exceeded_kept_first_%d", category.MaxPhotos))
		in.Images = in.Images[:category.MaxPhotos]
	}

	return category, warnings, nil
}

func (s *Service) buildDraft(in CreateInput, category config.CategoryConfig, lat, lng float64) *model.Post {
	post := &model.Post{
		UserID:       in.UserID,
		CategoryName: category.Name,
		Title:        in.Title,
		Description:  in.Description,
		Lat:          lat,
		Lng:          lng,
		CategoryData: in.CategoryData,
		IsActive:     true,
	}

	if in.ExpiresAt != nil {
		post.ExpiresAt = in.ExpiresAt
	} else if category.DefaultExpirationDays > 0 {
		expires := s.now().AddDate(0, 0, category.DefaultExpirationDays)
		post.ExpiresAt = &expires
	}

	return post
}

// fillDisplayLocation reverse geocodes a privacy-fuzzed point so the address
// shown to other users never pins the exact coordinates.
func (s *Service) fillDisplayLocation(ctx context.Context, post *model.Post, lat, lng float64) {
	fuzzedLat, fuzzedLng := s.locator.ApplyPrivacyFuzz(lat, lng)
	place := s.locator.ReverseGeocode(ctx, fuzzedLat, fuzzedLng)
	if place == nil {
		return
	}

	post.Address = place.FormattedAddress
	post.Neighborhood = place.Neighborhood
	post.City = place.City
	post.State = place.State
}

type processedImage struct {
	filename string
	size     int64
	mime     string
	keys     map[enums.Variant]string
	urls     map[enums.Variant]string
	status   enums.ModerationStatus
	skipped  bool
	warning  string
}

// processImages runs derivation, moderation and upload for every file in
// parallel. DB writes happen afterwards on the caller's goroutine because the
// transaction is not safe for concurrent use.
func (s *Service) processImages(ctx context.Context, userID, postID int64, uploads []ImageUpload) []processedImage {
	if len(uploads) == 0 {
		return nil
	}

	results := make([]processedImage, len(uploads))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.ImageWorkers)
	for i := range uploads {
		i := i
		g.Go(func() error {
			results[i] = s.processOne(gctx, userID, postID, i, uploads[i])
			return nil
		})
	}
	// Workers never return errors, per-file failures become warnings.
	_ = g.Wait()

	return results
}

func (s *Service) processOne(ctx context.Context, userID, postID int64, index int, upload ImageUpload) processedImage {
	out := processedImage{filename: upload.Filename, size: int64(len(upload.Data))}

	variants, err := s.deriver.Derive(upload.Data, upload.Filename)
	if err != nil {
		s.logger.Warn("image derivation failed",
			zap.Int("index", index), zap.String("filename", upload.Filename), zap.Error(err))
		out.skipped = true
		out.warning = fmt.Sprintf("image_%d_processing_failed", index)
		return out
	}
	out.mime = variants[enums.VariantOriginal].ContentType

	verdict := s.mod.ScoreImage(ctx, upload.Data)
	switch {
	case verdict.Flagged && s.mod.ShouldAutoRejectImage(verdict):
		s.logger.Warn("image rejected by moderation",
			zap.Int("index", index), zap.Float64("confidence", verdict.Confidence))
		out.skipped = true
		out.warning = fmt.Sprintf("image_%d_rejected_by_moderation", index)
		return out
	case verdict.Flagged:
		out.status = enums.ModerationStatusFlagged
		out.warning = fmt.Sprintf("image_%d_flagged_for_review", index)
	case verdict.Reason == moderation.ReasonServiceUnavailable:
		out.status = enums.ModerationStatusPending
	default:
		out.status = enums.ModerationStatusApproved
	}

	out.keys = make(map[enums.Variant]string, len(variants))
	out.urls = make(map[enums.Variant]string, len(variants))
	for _, variant := range enums.Variants() {
		derived := variants[variant]
		key := s.buildKey(userID, postID, variant, derived.Ext)
		url, err := s.storage.Put(ctx, key, derived.Data, derived.ContentType)
		if err != nil {
			s.logger.Error("variant upload failed",
				zap.Int("index", index), zap.String("variant", string(variant)), zap.Error(err))
			s.deleteKeys(ctx, out.keys)
			out.keys = nil
			out.urls = nil
			out.skipped = true
			out.warning = fmt.Sprintf("image_%d_upload_failed", index)
			return out
		}
		out.keys[variant] = key
		out.urls[variant] = url
	}

	return out
}

// compensateUploads removes every object a failed create managed to upload.
// It runs on a detached context so cleanup still happens after a deadline.
func (s *Service) compensateUploads(ctx context.Context, processed []processedImage) {
	if s.storage == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, p := range processed {
		s.deleteKeys(ctx, p.keys)
	}
}

func (s *Service) deleteKeys(ctx context.Context, keys map[enums.Variant]string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			s.logger.Error("compensating delete failed", zap.String("key", key), zap.Error(err))
		}
	}
}

type UpdateInput struct {
	PostID  int64
	UserID  int64
	IsAdmin bool

	Title       *string
	Description *string
	Lat         *float64
	Lng         *float64
	Reference   *location.Point

	CategoryData map[string]any
	ExpiresAt    *time.Time
	IsActive     *bool
}

// Update edits post fields in place. Images are managed through the create
// and review flows and stay untouched here.
func (s *Service) Update(ctx context.Context, in UpdateInput) error {
	if in.PostID <= 0 || in.UserID <= 0 {
		return ErrValidation
	}

	post, err := s.store.GetPost(ctx, in.PostID)
	if err != nil {
		return err
	}
	if post.UserID != in.UserID && !in.IsAdmin {
		return ErrForbidden
	}
	if post.IsExpired(s.now()) {
		return ErrPostExpired
	}

	textChanged := false
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" || len(title) > maxTitleLen {
			return fmt.Errorf("%w: invalid title", ErrValidation)
		}
		post.Title = title
		textChanged = true
	}
	if in.Description != nil {
		if len(*in.Description) > maxDescriptionLen {
			return fmt.Errorf("%w: description too long", ErrValidation)
		}
		post.Description = strings.TrimSpace(*in.Description)
		textChanged = true
	}

	if textChanged {
		verdict := s.mod.ScoreText(post.Title + " " + post.Description)
		if verdict.Flagged && s.mod.ShouldAutoReject(moderation.SubmissionVerdict{Flagged: true, Text: verdict}) {
			return fmt.Errorf("%w: %s", ErrContentRejected, verdict.Reason)
		}
	}

	if in.Lat != nil && in.Lng != nil {
		validation := s.locator.Validate(*in.Lat, *in.Lng, in.Reference)
		if !validation.IsValid {
			return fmt.Errorf("%w: %s", ErrValidation, validation.ErrorMessage)
		}
		post.Lat = *in.Lat
		post.Lng = *in.Lng
		s.fillDisplayLocation(ctx, &post, post.Lat, post.Lng)
	}

	if in.CategoryData != nil {
		post.CategoryData = in.CategoryData
	}
	if in.ExpiresAt != nil {
		post.ExpiresAt = in.ExpiresAt
	}
	if in.IsActive != nil {
		post.IsActive = *in.IsActive
	}

	return s.store.UpdatePost(ctx, &post)
}

// Delete soft deletes by default. Hard delete is admin only and also removes
// every stored object variant.
func (s *Service) Delete(ctx context.Context, postID, userID int64, isAdmin, hard bool) error {
	if postID <= 0 || userID <= 0 {
		return ErrValidation
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.UserID != userID && !isAdmin {
		return ErrForbidden
	}

	if !hard {
		return s.store.InTx(ctx, func(ctx context.Context, tx StoreTx) error {
			if err := tx.SoftDeleteImages(ctx, postID); err != nil {
				return err
			}
			return tx.SoftDeletePost(ctx, postID)
		})
	}

	if !isAdmin {
		return ErrForbidden
	}

	// Objects go first. A failure here keeps the rows, so the keys stay
	// recoverable; rows removed before objects would orphan every variant.
	keys, err := s.store.ListImageObjectKeys(ctx, postID)
	if err != nil {
		return err
	}
	removed := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if err := s.storage.Delete(ctx, key); err != nil {
			return fmt.Errorf("delete stored object %s: %w", key, err)
		}
		removed[key] = struct{}{}
	}

	var tail []string
	err = s.store.InTx(ctx, func(ctx context.Context, tx StoreTx) error {
		tail, err = tx.HardDeleteImages(ctx, postID)
		if err != nil {
			return err
		}
		return tx.HardDeletePost(ctx, postID)
	})
	if err != nil {
		return err
	}

	// Keys attached between the snapshot and the delete, best effort.
	cleanupCtx := context.WithoutCancel(ctx)
	for _, key := range tail {
		if _, ok := removed[key]; ok {
			continue
		}
		if err := s.storage.Delete(cleanupCtx, key); err != nil {
			s.logger.Error("object cleanup failed", zap.String("key", key), zap.Error(err))
		}
	}

	return nil
}

type PostDetail struct {
	Post   model.Post
	Images []model.PostImage
}

func (s *Service) Get(ctx context.Context, postID int64) (PostDetail, error) {
	if postID <= 0 {
		return PostDetail{}, ErrValidation
	}

	post, err := s.store.GetPost(ctx, postID)
	if err != nil {
		return PostDetail{}, err
	}
	imgs, err := s.store.ListImages(ctx, postID)
	if err != nil {
		return PostDetail{}, err
	}

	return PostDetail{Post: post, Images: imgs}, nil
}

// IncrementView buffers the counter in redis; a failed increment is logged
// and swallowed so reads never fail on telemetry.
func (s *Service) IncrementView(ctx context.Context, postID int64) {
	if s.counters == nil || postID <= 0 {
		return
	}
	if err := s.counters.IncrementView(ctx, postID); err != nil {
		s.logger.Warn("view counter increment failed", zap.Int64("post_id", postID), zap.Error(err))
	}
}

func (s *Service) Like(ctx context.Context, postID int64) error {
	if s.counters == nil || postID <= 0 {
		return ErrValidation
	}
	return s.counters.IncrementLike(ctx, postID)
}

func (s *Service) Unlike(ctx context.Context, postID int64) error {
	if s.counters == nil || postID <= 0 {
		return ErrValidation
	}
	return s.counters.DecrementLike(ctx, postID)
}

// ReviewImage resolves a flagged or pending image manually. Approving an
// image promotes it to primary when the post has none.
func (s *Service) ReviewImage(ctx context.Context, imageID int64, approve bool) error {
	if imageID <= 0 {
		return ErrValidation
	}

	img, err := s.store.GetImage(ctx, imageID)
	if err != nil {
		return err
	}

	target := enums.ModerationStatusRejected
	if approve {
		target = enums.ModerationStatusApproved
	}
	if err := s.store.UpdateImageModeration(ctx, imageID, target); err != nil {
		return err
	}

	s.logger.Info("image reviewed",
		zap.Int64("image_id", imageID),
		zap.Int64("post_id", img.PostID),
		zap.String("status", string(target)),
	)

	if !approve {
		return nil
	}

	siblings, err := s.store.ListImages(ctx, img.PostID)
	if err != nil {
		return err
	}
	for _, sibling := range siblings {
		if sibling.IsPrimary {
			return nil
		}
	}

	return s.store.SetPrimaryImage(ctx, img.PostID, imageID)
}

func (s *Service) categoryByName(name string) (config.CategoryConfig, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range s.cfg.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return config.CategoryConfig{}, false
}

func hasCategoryField(data map[string]any, key string) bool {
	if data == nil {
		return false
	}
	v, ok := data[key]
	if !ok {
		return false
	}
	if str, isStr := v.(string); isStr {
		return strings.TrimSpace(str) != ""
	}
	return v != nil
}
