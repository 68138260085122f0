// Command aetherctl is the owner's terminal client for Aether guest access.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/aetherhome/aether/internal/guestaccess"
	"github.com/aetherhome/aether/internal/session"
	"github.com/aetherhome/aether/pkg/apiclient"
	"github.com/aetherhome/aether/pkg/config"
	"github.com/aetherhome/aether/pkg/logger"
)

const usage = `usage: aetherctl <command> [flags]

commands:
  signup     register an owner account
  login      sign in and store the session
  logout     forget the stored session
  rooms      list rooms
  add-room   add a room
  guests     list guests (-status active|pending|all)
  invite     issue a guest code and watch it until it is used or expires
  resume     pick up a pending code after a restart
  redeem     use a guest code (guest side)
`

type app struct {
	cfg    *config.Config
	store  session.Store
	client *apiclient.Client
	api    *guestaccess.HTTPAPI
	out    io.Writer
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	logger.Configure(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := session.Open(cfg.Client)
	if err != nil {
		logger.Error("Failed to open session store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	client := apiclient.New(cfg.Client.APIURL, session.NewTokens(store), apiclient.WithTimeout(cfg.Client.RequestTimeout))
	a := &app{
		cfg:    cfg,
		store:  store,
		client: client,
		api:    guestaccess.NewHTTPAPI(client),
		out:    os.Stdout,
	}

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		fmt.Fprintln(os.Stderr, "aetherctl:", err)
		if apiclient.IsStatus(err, 401) {
			fmt.Fprintln(os.Stderr, "session expired; run aetherctl login")
		}
		os.Exit(1)
	}
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "signup":
		return a.signup(ctx, args)
	case "login":
		return a.login(ctx, args)
	case "logout":
		return a.client.Logout(ctx)
	case "rooms":
		return a.rooms(ctx)
	case "add-room":
		return a.addRoom(ctx, args)
	case "guests":
		return a.guests(ctx, args)
	case "invite":
		return a.invite(ctx, args)
	case "resume":
		return a.resume(ctx)
	case "redeem":
		return a.redeem(ctx, args)
	case "help", "-h", "--help":
		fmt.Fprint(a.out, usage)
		return nil
	default:
		return fmt.Errorf("unknown command %q\n\n%s", cmd, usage)
	}
}

func (a *app) signup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("signup", flag.ContinueOnError)
	email := fs.String("email", "", "owner email")
	password := fs.String("password", os.Getenv("AETHER_PASSWORD"), "password (default $AETHER_PASSWORD)")
	name := fs.String("name", "", "first name")
	plan := fs.String("plan", "home", "plan type: home or business")
	if err := fs.Parse(args); err != nil {
		return err
	}

	err := a.api.Signup(ctx, guestaccess.SignupRequest{
		Email:           *email,
		Password:        *password,
		ConfirmPassword: *password,
		FirstName:       *name,
		PlanType:        *plan,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Signed up %s. Run aetherctl login next.\n", *email)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	email := fs.String("email", "", "owner email")
	password := fs.String("password", os.Getenv("AETHER_PASSWORD"), "password (default $AETHER_PASSWORD)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return errors.New("login: -email and -password are required")
	}

	if err := a.client.Login(ctx, *email, *password); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged in.")
	return nil
}

func (a *app) rooms(ctx context.Context) error {
	rooms, err := a.api.ListRooms(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME")
	for _, r := range rooms {
		fmt.Fprintf(tw, "%s\t%s\n", r.ID, r.Name)
	}
	return tw.Flush()
}

func (a *app) addRoom(ctx context.Context, args []string) error {
	name := strings.TrimSpace(strings.Join(args, " "))
	if name == "" {
		return errors.New("add-room: room name is required")
	}
	room, err := a.api.AddRoom(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Added room %s (%s).\n", room.Name, room.ID)
	return nil
}

func (a *app) guests(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("guests", flag.ContinueOnError)
	status := fs.String("status", "", "active, pending or all (default active)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	guests, err := a.api.ListGuests(ctx, guestaccess.ListOptions{Status: *status})
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tDEPARTS\tCODE\tROOMS\tSTATUS")
	for _, g := range guests {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			g.ID, g.FullName, g.DepartureDate, g.AccessCode, strings.Join(g.AllowedRooms, ", "), g.Status)
	}
	return tw.Flush()
}

func (a *app) invite(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("invite", flag.ContinueOnError)
	name := fs.String("name", "", "guest name")
	departure := fs.String("departs", "", "departure date, YYYY-MM-DD")
	rooms := fs.String("rooms", "", "comma separated room ids or names")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var g guestaccess.NewGuest
	g.Name = *name
	if *departure != "" {
		d, err := guestaccess.ParseDate(*departure)
		if err != nil {
			return err
		}
		g.DepartureDate = d
	}
	roomIDs, err := a.resolveRooms(ctx, *rooms)
	if err != nil {
		return err
	}
	g.AllowedRooms = roomIDs

	return a.watch(ctx, func(c *guestaccess.Controller) (bool, error) {
		draft, err := c.Issue(ctx, g)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(a.out, "Guest code %s for house %s. Share both with %s.\n", draft.AccessCode, draft.HouseID, draft.Name)
		return true, nil
	})
}

func (a *app) resume(ctx context.Context) error {
	return a.watch(ctx, func(c *guestaccess.Controller) (bool, error) {
		ok, err := c.Resume(ctx)
		if err != nil || !ok {
			return ok, err
		}
		if d := c.State().Draft; d != nil {
			fmt.Fprintf(a.out, "Resumed guest code %s for %s.\n", d.AccessCode, d.Name)
		}
		return true, nil
	})
}

// watch runs start against a fresh controller and blocks until the draft
// resolves or ctx is cancelled. An interrupted watch leaves the draft
// persisted for resume.
func (a *app) watch(ctx context.Context, start func(*guestaccess.Controller) (bool, error)) error {
	schedule, err := guestaccess.NewCronSchedule()
	if err != nil {
		return err
	}
	defer schedule.Shutdown()

	done := make(chan guestaccess.Event, 1)
	ctrl := guestaccess.NewController(ctx, a.api, schedule,
		guestaccess.WithCountdown(a.cfg.Client.Countdown),
		guestaccess.WithPollInterval(a.cfg.Client.PollInterval),
		guestaccess.WithTickInterval(a.cfg.Client.TickInterval),
		guestaccess.WithStore(guestaccess.NewSessionDrafts(a.store)),
		guestaccess.WithObserver(func(e guestaccess.Event) {
			switch e.Kind {
			case guestaccess.EventTick:
				fmt.Fprintf(a.out, "\rExpires in %s ", countdown(e.Remaining))
			case guestaccess.EventSuperseded:
				fmt.Fprintf(a.out, "Discarded earlier guest code %s.\n", e.GuestID)
			case guestaccess.EventVerified, guestaccess.EventExpired:
				select {
				case done <- e:
				default:
				}
			}
		}),
	)
	defer ctrl.Close()

	started, err := start(ctrl)
	if err != nil {
		return err
	}
	if !started {
		fmt.Fprintln(a.out, "No pending guest code.")
		return nil
	}

	select {
	case e := <-done:
		fmt.Fprintln(a.out)
		switch {
		case e.Kind == guestaccess.EventVerified, e.DeleteStatus == "verified":
			fmt.Fprintf(a.out, "Guest %s is in.\n", e.GuestID)
		default:
			fmt.Fprintln(a.out, "Code expired and was deleted.")
		}
		return nil
	case <-ctx.Done():
		fmt.Fprintln(a.out, "\nStopped watching. Run aetherctl resume to continue.")
		return nil
	}
}

// resolveRooms maps room names to ids; numeric entries pass through.
func (a *app) resolveRooms(ctx context.Context, list string) ([]string, error) {
	var names []string
	for _, s := range strings.Split(list, ",") {
		if s = strings.TrimSpace(s); s != "" {
			names = append(names, s)
		}
	}

	var byName map[string]string
	ids := make([]string, 0, len(names))
	for _, n := range names {
		if _, err := strconv.ParseInt(n, 10, 64); err == nil {
			ids = append(ids, n)
			continue
		}
		if byName == nil {
			rooms, err := a.api.ListRooms(ctx)
			if err != nil {
				return nil, err
			}
			byName = make(map[string]string, len(rooms))
			for _, r := range rooms {
				byName[strings.ToLower(r.Name)] = r.ID.String()
			}
		}
		id, ok := byName[strings.ToLower(n)]
		if !ok {
			return nil, fmt.Errorf("no room named %q", n)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (a *app) redeem(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("redeem", flag.ContinueOnError)
	code := fs.String("code", "", "guest code")
	house := fs.String("house", "", "house id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	s, err := a.api.Redeem(ctx, *code, *house)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Welcome. Continue at %s\n%s\n", s.Redirect, s.AccessToken)
	return nil
}

func countdown(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
