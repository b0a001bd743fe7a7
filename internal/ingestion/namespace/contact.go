package namespace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/neurobridge-ingest/internal/data/repos"
	"github.com/yungbote/neurobridge-ingest/internal/platform/apierr"
	"github.com/yungbote/neurobridge-ingest/internal/platform/dbctx"
	"github.com/yungbote/neurobridge-ingest/internal/platform/logger"
)

const (
	SourceChannelMapping = "channel_mapping"
	SourceUserProfile    = "user_profile"
	SourceContact        = "contact"

	ChannelSMS      = "sms"
	ChannelWhatsApp = "whatsapp"

	// ContactUserPrefix marks anonymous identities keyed by the sender.
	ContactUserPrefix = "contact:"

	minPhoneDigits = 7
	maxPhoneDigits = 15
)

type Identity struct {
	UserID            string
	Source            string
	Channel           string
	NormalizedContact string
}

// ChannelFor reads the transport from a prefixed address such as
// "whatsapp:+15550001111"; bare numbers are SMS.
func ChannelFor(raw string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), ChannelWhatsApp+":") {
		return ChannelWhatsApp
	}
	return ChannelSMS
}

// NormalizePhone returns "+<digits>" or "" when raw is not phone-like.
// defaultCC is the country calling code (digits only) for national numbers.
func NormalizePhone(raw, defaultCC string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	for _, p := range []string{"whatsapp:", "sms:", "mms:", "tel:"} {
		s = strings.TrimPrefix(s, p)
	}
	s = strings.TrimSpace(s)
	plus := strings.HasPrefix(s, "+")

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	cc := strings.TrimLeft(onlyDigits(defaultCC), "0")

	switch {
	case plus:
	case strings.HasPrefix(digits, "00"):
		digits = digits[2:]
	case cc == "":
	case strings.HasPrefix(digits, "0"):
		// National trunk prefix.
		digits = cc + strings.TrimLeft(digits, "0")
	case strings.HasPrefix(digits, cc) && len(digits) > len(cc)+minPhoneDigits:
	case len(digits) <= 10:
		digits = cc + digits
	}

	if len(digits) < minPhoneDigits || len(digits) > maxPhoneDigits {
		return ""
	}
	return "+" + digits
}

func onlyDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Identifier maps a messaging sender to a user. Lookup order: explicit
// channel mapping, then a single profile with the same number, then an
// anonymous contact identity. Existing data depends on this order.
type Identifier struct {
	log       *logger.Logger
	mappings  repos.ChannelUserMappingRepo
	profiles  repos.UserProfileRepo
	defaultCC string
}

func NewIdentifier(log *logger.Logger, mappings repos.ChannelUserMappingRepo, profiles repos.UserProfileRepo, defaultCC string) *Identifier {
	return &Identifier{
		log:       log.With("service", "ContactIdentifier"),
		mappings:  mappings,
		profiles:  profiles,
		defaultCC: defaultCC,
	}
}

func (i *Identifier) Identify(ctx context.Context, rawContact string) (Identity, error) {
	channel := ChannelFor(rawContact)
	normalized := NormalizePhone(rawContact, i.defaultCC)
	if normalized == "" {
		return Identity{}, apierr.Input("invalid_contact", errors.New("contact is not a phone-like identifier"))
	}
	dbc := dbctx.Background(ctx)
	id := Identity{Channel: channel, NormalizedContact: normalized}

	m, err := i.mappings.GetByAddress(dbc, channel, normalized)
	switch {
	case err == nil:
		id.UserID = m.UserID
		id.Source = SourceChannelMapping
		return id, nil
	case !errors.Is(err, apierr.ErrNotFound):
		return Identity{}, apierr.Infra("metadata_unavailable", fmt.Errorf("lookup channel mapping: %w", err))
	}

	profiles, err := i.profiles.FindByNormalizedPhone(dbc, normalized)
	if err != nil {
		return Identity{}, apierr.Infra("metadata_unavailable", fmt.Errorf("lookup user profile: %w", err))
	}
	switch len(profiles) {
	case 0:
	case 1:
		id.UserID = profiles[0].UserID
		id.Source = SourceUserProfile
		return id, nil
	default:
		i.log.Warn("Phone number shared by several profiles; using contact identity", "contact", normalized, "matches", len(profiles))
	}

	id.UserID = ContactUserPrefix + normalized
	id.Source = SourceContact
	return id, nil
}

// Link pins rawContact on its channel to userID. The number must be the one
// on the user's own profile, which also settles numbers shared by several
// profiles.
func (i *Identifier) Link(ctx context.Context, userID, rawContact string) (Identity, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Identity{}, apierr.Input("missing_user_id", errors.New("user id required"))
	}
	channel := ChannelFor(rawContact)
	normalized := NormalizePhone(rawContact, i.defaultCC)
	if normalized == "" {
		return Identity{}, apierr.Input("invalid_contact", errors.New("contact is not a phone-like identifier"))
	}
	dbc := dbctx.Background(ctx)

	profile, err := i.profiles.GetByUserID(dbc, userID)
	switch {
	case errors.Is(err, apierr.ErrNotFound):
		return Identity{}, apierr.Forbidden("contact_not_verified", errors.New("no profile phone to match"))
	case err != nil:
		return Identity{}, apierr.Infra("metadata_unavailable", fmt.Errorf("load user profile: %w", err))
	}
	own := profile.NormalizedPhone
	if own == "" {
		own = NormalizePhone(profile.PhoneNumber, i.defaultCC)
	}
	if own != normalized {
		return Identity{}, apierr.Forbidden("contact_not_verified", errors.New("contact does not match the profile phone"))
	}

	m, err := i.mappings.Upsert(dbc, channel, normalized, userID)
	if err != nil {
		return Identity{}, apierr.Infra("metadata_unavailable", fmt.Errorf("store channel mapping: %w", err))
	}
	i.log.Info("Channel address linked", "user_id", userID, "channel", channel, "contact", normalized)
	return Identity{UserID: m.UserID, Source: SourceChannelMapping, Channel: channel, NormalizedContact: normalized}, nil
}
