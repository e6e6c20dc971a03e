// ABOUTME: Password login and credential restore against a homeserver
// ABOUTME: Credentials are the opaque user session blob kept in the session file

package matrix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/id"
)

// Credentials identify one logged-in device.
type Credentials struct {
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`
}

// Marshal encodes the credentials for storage.
func (c Credentials) Marshal() (json.RawMessage, error) {
	return json.Marshal(c)
}

// ParseCredentials decodes a stored credential blob.
func ParseCredentials(raw json.RawMessage) (Credentials, error) {
	var c Credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return Credentials{}, fmt.Errorf("decoding credentials: %w", err)
	}
	if c.UserID == "" || c.AccessToken == "" {
		return Credentials{}, fmt.Errorf("credentials missing user_id or access_token")
	}
	return c, nil
}

// LoginRequest is a username/password login.
type LoginRequest struct {
	Homeserver string
	Username   string
	Password   string
	DeviceName string
}

// Login exchanges a password for a new device session.
func Login(ctx context.Context, req LoginRequest, opts Options) (*Client, Credentials, error) {
	c, err := newClient(req.Homeserver, "", "", opts)
	if err != nil {
		return nil, Credentials{}, err
	}

	resp, err := c.cli.Login(ctx, &mautrix.ReqLogin{
		Type: mautrix.AuthTypePassword,
		Identifier: mautrix.UserIdentifier{
			Type: mautrix.IdentifierTypeUser,
			User: req.Username,
		},
		Password:                 req.Password,
		InitialDeviceDisplayName: req.DeviceName,
		StoreCredentials:         true,
	})
	if err != nil {
		if refused(err) {
			return nil, Credentials{}, fmt.Errorf("%w: %w", ErrAuthFailed, err)
		}
		return nil, Credentials{}, fmt.Errorf("logging in: %w", err)
	}

	creds := Credentials{
		UserID:      resp.UserID.String(),
		DeviceID:    resp.DeviceID.String(),
		AccessToken: resp.AccessToken,
	}
	c.logger.Info("logged in", "user_id", creds.UserID, "device_id", creds.DeviceID)
	return c, creds, nil
}

// Restore rebuilds a client from stored credentials and checks the server
// still accepts them. When the server cannot be reached the check is
// skipped and the client is returned as is; the sync loop retries from there.
func Restore(ctx context.Context, homeserver string, creds Credentials, opts Options) (*Client, error) {
	c, err := newClient(homeserver, id.UserID(creds.UserID), creds.AccessToken, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransportInit, err)
	}
	c.cli.DeviceID = id.DeviceID(creds.DeviceID)

	who, err := c.cli.Whoami(ctx)
	switch {
	case err == nil:
		if who.UserID.String() != creds.UserID {
			return nil, fmt.Errorf("%w: token belongs to %s, not %s", ErrTransportInit, who.UserID, creds.UserID)
		}
	case refused(err):
		return nil, fmt.Errorf("%w: stored credentials rejected: %w", ErrTransportInit, err)
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		c.logger.Warn("could not verify stored credentials, continuing", "error", err)
	}

	c.logger.Info("session restored", "user_id", creds.UserID, "device_id", creds.DeviceID)
	return c, nil
}

// refused reports whether err is the homeserver turning the credentials
// down, as opposed to the request never getting a proper answer.
func refused(err error) bool {
	if errors.Is(err, mautrix.MForbidden) ||
		errors.Is(err, mautrix.MUnknownToken) ||
		errors.Is(err, mautrix.MMissingToken) ||
		errors.Is(err, mautrix.MUserDeactivated) {
		return true
	}
	var respErr *mautrix.RespError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusUnauthorized || respErr.StatusCode == http.StatusForbidden
	}
	return false
}
