// Package settings holds launch parameters and persisted user preferences.
package settings

import (
	"fmt"
	"math/rand"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/samber/lo"

	"github.com/tomaslejdung/sharescreen/pkg/media"
	"github.com/tomaslejdung/sharescreen/pkg/session"
	"github.com/tomaslejdung/sharescreen/pkg/signal"
)

var colorPattern = regexp.MustCompile(`^(#[0-9a-fA-F]{3,8}|hsl\(\s*\d{1,3}\s*,\s*\d{1,3}%\s*,\s*\d{1,3}%\s*\)|[a-zA-Z]+)$`)

// LaunchParams is what a participant starts with. Any field may be left
// empty and is filled by Resolve.
type LaunchParams struct {
	Channel  string
	Nickname string
	Initials string
	Color    string
	Profile  string
}

// RandomColor returns a muted view color with a random hue
func RandomColor() string {
	return fmt.Sprintf("hsl(%d, 40%%, 40%%)", rand.Intn(255))
}

// Resolve fills empty fields from saved settings, then from defaults. A
// missing channel gets a freshly generated room code.
func (p LaunchParams) Resolve(saved UserSettings) LaunchParams {
	p.Channel = signal.NormalizeRoomCode(p.Channel)
	if p.Channel == "" {
		p.Channel = signal.GenerateRoomCode()
	}
	p.Nickname = lo.CoalesceOrEmpty(p.Nickname, saved.Nickname)
	p.Initials = lo.CoalesceOrEmpty(p.Initials, saved.Initials)
	p.Color = lo.CoalesceOrEmpty(p.Color, saved.Color, RandomColor())
	p.Profile = lo.CoalesceOrEmpty(p.Profile, saved.Profile, media.DefaultProfile().Name)
	return p
}

// Validate checks presence and format only
func (p LaunchParams) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Channel, signal.RoomCodeRules...),
		validation.Field(&p.Nickname, validation.RuneLength(0, 32)),
		validation.Field(&p.Initials, validation.RuneLength(0, 4)),
		validation.Field(&p.Color, validation.Length(0, 64), validation.Match(colorPattern)),
		validation.Field(&p.Profile, validation.By(knownProfile)),
	)
}

func knownProfile(value interface{}) error {
	name, _ := value.(string)
	if name == "" {
		return nil
	}
	if _, ok := media.ProfileByName(name); !ok {
		return fmt.Errorf("must be one of %v", media.ProfileNames())
	}
	return nil
}

// Member is the participant metadata carried in the session
func (p LaunchParams) Member() session.Member {
	return session.Member{
		Nickname: p.Nickname,
		Initials: p.Initials,
		Color:    p.Color,
	}
}

// Remember copies the personal fields of p into saved
func (p LaunchParams) Remember(saved UserSettings) UserSettings {
	saved.Nickname = lo.CoalesceOrEmpty(p.Nickname, saved.Nickname)
	saved.Initials = lo.CoalesceOrEmpty(p.Initials, saved.Initials)
	saved.Color = lo.CoalesceOrEmpty(p.Color, saved.Color)
	if p.Profile != "" {
		saved.Profile = p.Profile
	}
	return saved
}
