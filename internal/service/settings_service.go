package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/pesio-ai/be-gl-closing/internal/errors"
	"github.com/pesio-ai/be-gl-closing/internal/logger"
	"github.com/pesio-ai/be-gl-closing/internal/repository"
)

// Setting keys.
const (
	SettingModuleEnabled                = "module_enabled"
	SettingClosingMode                  = "closing_mode"
	SettingMaterialThreshold            = "material_threshold"
	SettingAllowReopenHardClose         = "allow_reopen_hard_close"
	SettingRequireChecklistCompletion   = "require_checklist_completion"
	SettingEscalationRequiresPermission = "escalation_requires_permission"
	SettingReminderDaysBeforeCutoff     = "reminder_days_before_cutoff"
	SettingApprovalReminderHours        = "approval_reminder_hours"
)

// ClosingMode decides what happens to journal edits inside a closed period.
type ClosingMode string

const (
	// ClosingModeRevision routes edits through revision logs.
	ClosingModeRevision ClosingMode = "revision"
	// ClosingModeLocked refuses edits outright.
	ClosingModeLocked ClosingMode = "locked"
)

// DefaultMaterialThreshold applies when material_threshold is not set.
var DefaultMaterialThreshold = decimal.NewFromInt(1_000_000)

const dateLayout = "2006-01-02"

// SettingsService reads and writes typed settings through a TTL cache.
// Entries are cached per key and per group. Set invalidates the written key
// and its group before returning; out-of-band database writes become
// visible once the TTL lapses.
type SettingsService struct {
	store SettingStore
	cache SettingsCache
	ttl   time.Duration
	log   *logger.Logger
}

// NewSettingsService creates a new SettingsService. cache may be nil.
func NewSettingsService(store SettingStore, cache SettingsCache, ttl time.Duration, log *logger.Logger) *SettingsService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &SettingsService{store: store, cache: cache, ttl: ttl, log: log}
}

func keyCacheKey(key string) string     { return "setting:" + key }
func groupCacheKey(group string) string { return "group:" + group }

// Lookup returns the raw setting row, or nil when the key is not configured.
func (s *SettingsService) Lookup(ctx context.Context, key string) (*repository.ClosingPeriodSetting, error) {
	if s.cache != nil {
		var cached repository.ClosingPeriodSetting
		ok, err := s.cache.GetObject(ctx, keyCacheKey(key), &cached)
		if err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Settings cache read failed")
		} else if ok {
			return &cached, nil
		}
	}

	setting, err := s.store.Get(ctx, key)
	if err != nil || setting == nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetObject(ctx, keyCacheKey(key), setting, s.ttl); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("Settings cache write failed")
		}
	}
	return setting, nil
}

// Get returns the coerced value of key, or def when the key is missing,
// unreadable or malformed.
func (s *SettingsService) Get(ctx context.Context, key string, def any) any {
	setting, err := s.Lookup(ctx, key)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to read setting; using default")
		return def
	}
	if setting == nil {
		return def
	}
	v, err := Coerce(setting.Type, setting.Value)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Malformed setting value; using default")
		return def
	}
	return v
}

// GetBool reads a boolean setting.
func (s *SettingsService) GetBool(ctx context.Context, key string, def bool) bool {
	v, err := cast.ToBoolE(s.Get(ctx, key, def))
	if err != nil {
		return def
	}
	return v
}

// GetInt reads an integer setting.
func (s *SettingsService) GetInt(ctx context.Context, key string, def int) int {
	v, err := toInt(s.Get(ctx, key, def))
	if err != nil {
		return def
	}
	return v
}

// GetString reads a setting as a string.
func (s *SettingsService) GetString(ctx context.Context, key, def string) string {
	v, err := cast.ToStringE(s.Get(ctx, key, def))
	if err != nil {
		return def
	}
	return v
}

// GetDecimal reads a numeric setting without losing precision.
func (s *SettingsService) GetDecimal(ctx context.Context, key string, def decimal.Decimal) decimal.Decimal {
	setting, err := s.Lookup(ctx, key)
	if err != nil || setting == nil {
		return def
	}
	d, err := decimal.NewFromString(strings.TrimSpace(setting.Value))
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Malformed decimal setting; using default")
		return def
	}
	return d
}

// GetDate reads a date setting.
func (s *SettingsService) GetDate(ctx context.Context, key string, def time.Time) time.Time {
	v, ok := s.Get(ctx, key, def).(time.Time)
	if !ok {
		return def
	}
	return v
}

// Group returns the coerced values of every setting in group.
func (s *SettingsService) Group(ctx context.Context, group string) (map[string]any, error) {
	var rows []*repository.ClosingPeriodSetting
	hit := false
	if s.cache != nil {
		ok, err := s.cache.GetObject(ctx, groupCacheKey(group), &rows)
		if err != nil {
			s.log.Warn().Err(err).Str("group", group).Msg("Settings cache read failed")
		}
		hit = ok && err == nil
	}
	if !hit {
		var err error
		rows, err = s.store.ListGroup(ctx, group)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			if err := s.cache.SetObject(ctx, groupCacheKey(group), rows, s.ttl); err != nil {
				s.log.Warn().Err(err).Str("group", group).Msg("Settings cache write failed")
			}
		}
	}

	out := make(map[string]any, len(rows))
	for _, row := range rows {
		v, err := Coerce(row.Type, row.Value)
		if err != nil {
			s.log.Warn().Err(err).Str("key", row.Key).Msg("Malformed setting value skipped")
			continue
		}
		out[row.Key] = v
	}
	return out, nil
}

// All lists every setting row without caching.
func (s *SettingsService) All(ctx context.Context) ([]*repository.ClosingPeriodSetting, error) {
	return s.store.List(ctx)
}

// Set writes key. value is normalised to the stored string form of
// settingType, which defaults to the existing row's type. The key's cache
// entry and the cache entries of its old and new group are cleared before
// Set returns.
func (s *SettingsService) Set(ctx context.Context, key string, value any, settingType repository.SettingType, group, description string) (*repository.ClosingPeriodSetting, error) {
	if strings.TrimSpace(key) == "" {
		return nil, errors.InvalidInput("key", "setting key is required")
	}

	existing, err := s.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if settingType == "" {
		settingType = repository.SettingTypeString
		if existing != nil {
			settingType = existing.Type
		}
	}

	str, err := Normalize(settingType, value)
	if err != nil {
		return nil, errors.InvalidInput("value", err.Error())
	}

	row := &repository.ClosingPeriodSetting{
		Key:         key,
		Value:       str,
		Type:        settingType,
		Group:       group,
		Description: description,
	}
	if err := s.store.Upsert(ctx, row); err != nil {
		return nil, err
	}

	s.invalidate(ctx, key, existing, row)

	s.log.Info().
		Str("key", key).
		Str("type", string(row.Type)).
		Str("group", row.Group).
		Msg("Setting updated")

	return row, nil
}

func (s *SettingsService) invalidate(ctx context.Context, key string, before, after *repository.ClosingPeriodSetting) {
	if s.cache == nil {
		return
	}
	keys := []string{keyCacheKey(key), groupCacheKey(after.Group)}
	if before != nil && before.Group != after.Group {
		keys = append(keys, groupCacheKey(before.Group))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Settings cache invalidation failed")
	}
}

// ── Convenience readers ──────────────────────────────────────────────────────

// IsModuleEnabled gates every approval and closing check. Disabled by
// default.
func (s *SettingsService) IsModuleEnabled(ctx context.Context) bool {
	return s.GetBool(ctx, SettingModuleEnabled, false)
}

// ClosingMode returns revision unless locked is configured.
func (s *SettingsService) ClosingMode(ctx context.Context) ClosingMode {
	if ClosingMode(strings.ToLower(s.GetString(ctx, SettingClosingMode, string(ClosingModeRevision)))) == ClosingModeLocked {
		return ClosingModeLocked
	}
	return ClosingModeRevision
}

// MaterialThreshold is the revision approval threshold.
func (s *SettingsService) MaterialThreshold(ctx context.Context) decimal.Decimal {
	return s.GetDecimal(ctx, SettingMaterialThreshold, DefaultMaterialThreshold)
}

// AllowReopenHardClose gates hard_close -> open.
func (s *SettingsService) AllowReopenHardClose(ctx context.Context) bool {
	return s.GetBool(ctx, SettingAllowReopenHardClose, false)
}

// RequireChecklistCompletion gates close transitions on the checklist.
func (s *SettingsService) RequireChecklistCompletion(ctx context.Context) bool {
	return s.GetBool(ctx, SettingRequireChecklistCompletion, true)
}

// EscalationRequiresPermission decides whether escalate is permission-gated.
func (s *SettingsService) EscalationRequiresPermission(ctx context.Context) bool {
	return s.GetBool(ctx, SettingEscalationRequiresPermission, false)
}

// ReminderDaysBeforeCutoff is the cutoff reminder horizon.
func (s *SettingsService) ReminderDaysBeforeCutoff(ctx context.Context) int {
	return s.GetInt(ctx, SettingReminderDaysBeforeCutoff, 3)
}

// ApprovalReminderHours is the expiry reminder horizon.
func (s *SettingsService) ApprovalReminderHours(ctx context.Context) int {
	return s.GetInt(ctx, SettingApprovalReminderHours, 4)
}

// ── Coercion ─────────────────────────────────────────────────────────────────

// Coerce converts a stored string to the Go value of its type. Unknown
// types are treated as string.
func Coerce(t repository.SettingType, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch t {
	case repository.SettingTypeBoolean:
		return parseBool(raw)
	case repository.SettingTypeInteger:
		return parseInt(raw)
	case repository.SettingTypeDecimal:
		return decimal.NewFromString(raw)
	case repository.SettingTypeDate:
		if d, err := time.Parse(dateLayout, raw); err == nil {
			return d, nil
		}
		return cast.ToTimeE(raw)
	}
	return raw, nil
}

// Normalize renders value in the stored string form of t and checks that it
// coerces back.
func Normalize(t repository.SettingType, value any) (string, error) {
	var str string
	switch t {
	case repository.SettingTypeBoolean:
		b, err := toBool(value)
		if err != nil {
			return "", err
		}
		str = cast.ToString(b)
	case repository.SettingTypeInteger:
		n, err := toInt(value)
		if err != nil {
			return "", fmt.Errorf("not an integer: %v", value)
		}
		str = cast.ToString(n)
	case repository.SettingTypeDecimal:
		d, err := decimal.NewFromString(strings.TrimSpace(cast.ToString(value)))
		if err != nil {
			return "", fmt.Errorf("not a decimal: %v", value)
		}
		str = d.String()
	case repository.SettingTypeDate:
		if tm, ok := value.(time.Time); ok {
			str = tm.Format(dateLayout)
		} else {
			tm, err := Coerce(t, cast.ToString(value))
			if err != nil {
				return "", fmt.Errorf("not a date: %v", value)
			}
			str = tm.(time.Time).Format(dateLayout)
		}
	case repository.SettingTypeString:
		s, err := cast.ToStringE(value)
		if err != nil {
			return "", err
		}
		str = s
	default:
		return "", fmt.Errorf("unknown setting type %q", t)
	}
	return str, nil
}

func toInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case string:
		return parseInt(v)
	}
	s, err := cast.ToStringE(value)
	if err != nil {
		return 0, err
	}
	return parseInt(s)
}

// parseInt reads a base-10 integer. Leading zeros do not switch the base.
func parseInt(s string) (int, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsInteger() {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(d.IntPart()), nil
}

func toBool(value any) (bool, error) {
	if s, ok := value.(string); ok {
		return parseBool(s)
	}
	return cast.ToBoolE(value)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "yes", "on":
		return true, nil
	case "no", "off", "":
		return false, nil
	}
	b, err := cast.ToBoolE(s)
	if err != nil {
		return false, fmt.Errorf("not a boolean: %q", s)
	}
	return b, nil
}
