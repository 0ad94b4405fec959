package entities

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Command is an imperative instruction for one device. Each command type has
// its own concrete variant so parameters are checked when the value is built.
type Command interface {
	Type() CommandType
	// Params returns the JSON form stored in the command log.
	Params() string
}

// PlayParams selects the content item a PLAY command starts.
type PlayParams struct {
	ContentID string `json:"content_id"`
}

// UpdateParams names the software version an UPDATE_SOFTWARE command installs.
type UpdateParams struct {
	TargetVersion string `json:"target_version"`
}

type PlayCommand struct{ PlayParams }
type PauseCommand struct{}
type StopCommand struct{}
type RestartCommand struct{}
type UpdateSoftwareCommand struct{ UpdateParams }

func (PlayCommand) Type() CommandType           { return CommandPlay }
func (PauseCommand) Type() CommandType          { return CommandPause }
func (StopCommand) Type() CommandType           { return CommandStop }
func (RestartCommand) Type() CommandType        { return CommandRestart }
func (UpdateSoftwareCommand) Type() CommandType { return CommandUpdateSoftware }

func (c PlayCommand) Params() string           { return marshalParams(c.PlayParams) }
func (PauseCommand) Params() string            { return "{}" }
func (StopCommand) Params() string             { return "{}" }
func (RestartCommand) Params() string          { return "{}" }
func (c UpdateSoftwareCommand) Params() string { return marshalParams(c.UpdateParams) }

var ErrBadCommand = errors.New("invalid command")

// Play builds a PLAY command; the content id is required.
func Play(contentID string) (PlayCommand, error) {
	contentID = strings.TrimSpace(contentID)
	if contentID == "" {
		return PlayCommand{}, fmt.Errorf("%w: PLAY requires content_id", ErrBadCommand)
	}
	return PlayCommand{PlayParams{ContentID: contentID}}, nil
}

func Pause() PauseCommand     { return PauseCommand{} }
func Stop() StopCommand       { return StopCommand{} }
func Restart() RestartCommand { return RestartCommand{} }

// UpdateSoftware builds an UPDATE_SOFTWARE command; the target version is required.
func UpdateSoftware(version string) (UpdateSoftwareCommand, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		return UpdateSoftwareCommand{}, fmt.Errorf("%w: UPDATE_SOFTWARE requires target_version", ErrBadCommand)
	}
	return UpdateSoftwareCommand{UpdateParams{TargetVersion: version}}, nil
}

// ParseCommand builds a typed command from its wire form. Parameters that the
// command type does not accept are rejected.
func ParseCommand(commandType string, params json.RawMessage) (Command, error) {
	ct := CommandType(strings.ToUpper(strings.TrimSpace(commandType)))
	hasParams := len(params) > 0 && string(params) != "null" && string(params) != "{}"

	switch ct {
	case CommandPlay:
		var p PlayParams
		if hasParams {
			if err := strictUnmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
			}
		}
		return Play(p.ContentID)
	case CommandUpdateSoftware:
		var p UpdateParams
		if hasParams {
			if err := strictUnmarshal(params, &p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrBadCommand, err)
			}
		}
		return UpdateSoftware(p.TargetVersion)
	case CommandPause, CommandStop, CommandRestart:
		if hasParams {
			return nil, fmt.Errorf("%w: %s takes no parameters", ErrBadCommand, ct)
		}
		switch ct {
		case CommandPause:
			return Pause(), nil
		case CommandStop:
			return Stop(), nil
		}
		return Restart(), nil
	}
	return nil, fmt.Errorf("%w: unknown command type %q", ErrBadCommand, commandType)
}

func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func marshalParams(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
