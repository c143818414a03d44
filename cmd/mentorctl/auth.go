package main

import (
	"context"
	"flag"
	"io"
	"sort"
	"strings"

	"mentorhub/pkg/apiclient"
	"mentorhub/pkg/domain"
	"mentorhub/pkg/routeguard"
	"mentorhub/pkg/session"
)

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func cmdLogin(ctx context.Context, c *client, args []string) error {
	fs := newFlags("login")
	username := fs.String("u", "", "email")
	password := fs.String("p", "", "password (defaults to $MENTORHUB_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return usagef("login -u EMAIL [-p PASSWORD]")
	}
	if *password == "" {
		*password = c.password()
	}
	payload, err := c.api.Login(ctx, *username, *password)
	if err != nil {
		return err
	}
	if err := c.session.Login(ctx, payload); err != nil {
		return err
	}
	user := payload.User
	c.printf("signed in as %s (%s)\n", user.DisplayName(), userTypeLabel(user))
	if user.NeedsOnboarding() {
		c.printf("onboarding is not finished; run: mentorctl onboard key=value...\n")
	}
	return nil
}

func cmdLogout(ctx context.Context, c *client, _ []string) error {
	c.session.Logout(ctx)
	c.printf("signed out\n")
	return nil
}

func cmdWhoami(_ context.Context, c *client, _ []string) error {
	user, status := c.session.CurrentUser()
	c.printf("%s\n", status)
	if status != session.StatusSignedIn {
		return nil
	}
	c.printf("id:     %s\nname:   %s\nemail:  %s\nrole:   %s\nhome:   %s\n",
		user.ID, user.DisplayName(), user.Email, userTypeLabel(user), landing(user))
	for _, key := range sortedKeys(user.RoleValues) {
		c.printf("  %s: %v\n", key, user.RoleValues[key])
	}
	return nil
}

func cmdRefresh(ctx context.Context, c *client, _ []string) error {
	if _, err := c.signedIn(); err != nil {
		return err
	}
	snap := c.session.Snapshot()
	payload, err := c.api.Refresh(ctx, snap.RefreshToken)
	if err != nil {
		return err
	}
	if err := c.session.Refresh(ctx, payload); err != nil {
		return err
	}
	c.printf("tokens refreshed\n")
	return nil
}

func cmdRegister(ctx context.Context, c *client, args []string) error {
	fs := newFlags("register")
	var req apiclient.RegisterRequest
	var userType string
	fs.StringVar(&req.FirstName, "first", "", "first name")
	fs.StringVar(&req.LastName, "last", "", "last name")
	fs.StringVar(&req.Email, "email", "", "email")
	fs.StringVar(&req.Password, "p", "", "password")
	fs.StringVar(&req.ConfirmPassword, "confirm", "", "password confirmation")
	fs.StringVar(&userType, "type", "", "mentor or mentee")
	if err := fs.Parse(args); err != nil {
		return usagef("register -first NAME -last NAME -email EMAIL -p PASSWORD -confirm PASSWORD [-type ROLE]")
	}
	if req.Password == "" {
		req.Password = c.password()
		if req.ConfirmPassword == "" {
			req.ConfirmPassword = req.Password
		}
	}
	req.UserType = domain.UserType(strings.ToLower(userType))
	user, err := c.api.Register(ctx, req)
	if err != nil {
		return err
	}
	c.printf("account created for %s; sign in with: mentorctl login -u %s\n", user.DisplayName(), user.Email)
	return nil
}

func cmdForgotPassword(ctx context.Context, c *client, args []string) error {
	if len(args) != 1 {
		return usagef("forgot-password EMAIL")
	}
	if err := c.api.ForgotPassword(ctx, args[0]); err != nil {
		return err
	}
	c.printf("if the address is registered, a reset link is on its way\n")
	return nil
}

func cmdResetPassword(ctx context.Context, c *client, args []string) error {
	fs := newFlags("reset-password")
	token := fs.String("token", "", "reset token from the email")
	password := fs.String("p", "", "new password")
	confirm := fs.String("confirm", "", "new password again")
	if err := fs.Parse(args); err != nil {
		return usagef("reset-password -token T -p PASSWORD -confirm PASSWORD")
	}
	if err := c.api.ResetPassword(ctx, *token, *password, *confirm); err != nil {
		return err
	}
	c.printf("password updated\n")
	return nil
}

// cmdOnboard submits the onboarding answers and merges them into the stored user.
func cmdOnboard(ctx context.Context, c *client, args []string) error {
	fs := newFlags("onboard")
	role := fs.String("type", "", "mentor or mentee")
	if err := fs.Parse(args); err != nil {
		return usagef("onboard [-type ROLE] key=value...")
	}
	token, err := c.session.AccessToken()
	if err != nil {
		return err
	}
	answers := map[string]any{}
	for _, arg := range fs.Args() {
		key, value, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return usagef("onboard [-type ROLE] key=value...")
		}
		answers[strings.TrimSpace(key)] = value
	}
	fields := map[string]any{"new_role_values": answers}
	if *role != "" {
		t := domain.UserType(strings.ToLower(*role))
		if !t.Valid() {
			return &apiclient.ValidationError{Field: "user_type", Message: "unknown role " + *role}
		}
		fields["user_type"] = t
	}
	updated, err := c.api.UpdateMe(ctx, token, fields)
	if err != nil {
		return err
	}
	var user domain.User
	if updated.IsZero() {
		user, err = c.session.UpdateUser(ctx, fields)
	} else {
		user, err = c.session.ReplaceUser(ctx, updated)
	}
	if err != nil {
		return err
	}
	c.printf("onboarding saved; home is %s\n", landing(user))
	return nil
}

func (c *client) password() string {
	return c.getenv(envPassword)
}

func landing(user domain.User) string {
	if user.NeedsOnboarding() {
		return routeguard.OnboardingPath
	}
	return routeguard.HomeFor(&user)
}

func userTypeLabel(user domain.User) string {
	if user.UserType == "" {
		return "no role"
	}
	return string(user.UserType)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
