// Command racectl administers a race-lab store: seeding the directory,
// listing rooms, opening rooms and issuing tokens. It opens the badger
// directory itself, so the racebot must be stopped first.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"race-lab/auth"
	"race-lab/clock"
	"race-lab/contract"
	"race-lab/domain"
	"race-lab/idcodec"
	"race-lab/repositories"
	"race-lab/room"
	"race-lab/runtime"
	"strconv"
	"time"

	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/mama165/sdk-go/logs"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
)

type Config struct {
	BadgerFilepath    string        `envconfig:"BADGER_FILEPATH" required:"true"`
	HashidSecret      string        `envconfig:"HASHID_SECRET" required:"true"`
	JWTSecret         string        `envconfig:"JWT_SECRET"`
	AuthTokenDuration time.Duration `envconfig:"AUTH_TOKEN_DURATION" default:"24h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"WARN"`
	// RACECTL_COLOURS turns off colours when output is piped
	Colours bool `envconfig:"RACECTL_COLOURS" default:"true"`
}

const usage = `usage: racectl <command> [flags]

commands:
  seed   -f FILE                         load users, categories, teams and bots
  rooms  [--category SLUG] [--all]       list rooms
  open   --category SLUG --goal NAME --as USER_ID [--invitational]
  token  --user ID [--staff] | --bot ID  issue a bearer token
`

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "racectl: %v\n", err)
		os.Exit(1)
	}
}

type app struct {
	config Config
	log    *slog.Logger
	store  *repositories.Store
	codec  *idcodec.Codec
	out    io.Writer
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return fmt.Errorf("missing command")
	}
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return err
	}
	if !config.Colours {
		color.Disable()
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	codec, err := idcodec.New(config.HashidSecret)
	if err != nil {
		return err
	}
	db, err := repositories.Open(config.BadgerFilepath)
	if err != nil {
		return err
	}
	store := repositories.NewStore(db, log)
	defer func() {
		_ = store.Close()
		_ = db.Close()
	}()

	a := &app{config: config, log: log, store: store, codec: codec, out: out}
	ctx := context.Background()
	switch args[0] {
	case "seed":
		return a.seed(ctx, args[1:])
	case "rooms":
		return a.rooms(ctx, args[1:])
	case "open":
		return a.open(ctx, args[1:])
	case "token":
		return a.token(args[1:])
	}
	fmt.Fprint(out, usage)
	return fmt.Errorf("unknown command %q", args[0])
}

func (a *app) seed(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("seed", pflag.ContinueOnError)
	file := flags.StringP("file", "f", "seed.yaml", "seed file")
	if err := flags.Parse(args); err != nil {
		return err
	}
	f, err := os.Open(*file)
	if err != nil {
		return err
	}
	defer f.Close()
	seed, err := ParseSeed(f)
	if err != nil {
		return err
	}
	res, err := seed.Apply(ctx, a.store)
	if err != nil {
		return err
	}

	table := newTable(a.out, "Kind", "Name", "ID")
	for name, id := range res.Users {
		table.Append([]string{"user", name, a.codec.MustEncode(idcodec.User, id) + " (" + strconv.FormatInt(id, 10) + ")"})
	}
	for name, id := range res.Bots {
		table.Append([]string{"bot", name, a.codec.MustEncode(idcodec.Bot, id) + " (" + strconv.FormatInt(id, 10) + ")"})
	}
	table.Render()
	color.Green.Printf("Seeded %d users, %d categories, %d teams, %d bots\n",
		len(seed.Users), len(seed.Categories), len(seed.Teams), len(seed.Bots))
	return nil
}

func (a *app) rooms(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("rooms", pflag.ContinueOnError)
	category := flags.String("category", "", "only rooms of this category")
	all := flags.Bool("all", false, "include finished and cancelled rooms")
	if err := flags.Parse(args); err != nil {
		return err
	}
	var races []domain.Race
	err := a.store.View(ctx, func(tx contract.Tx) error {
		var err error
		races, err = tx.ListRooms(*category, *all)
		return err
	})
	if err != nil {
		return err
	}
	RenderRooms(a.out, races)
	return nil
}

// RenderRooms prints one row per race with its state coloured.
func RenderRooms(out io.Writer, races []domain.Race) {
	table := newTable(out, "Room", "Goal", "State", "Entrants", "Opened", "Owner")
	for _, r := range races {
		owner := "-"
		if r.BotPID != nil {
			owner = strconv.Itoa(*r.BotPID)
		}
		table.Append([]string{
			r.Key().String(),
			r.GoalName(),
			stateColour(r.State).Sprint(r.State.Verbose()),
			strconv.Itoa(len(r.Joined())),
			r.OpenedAt.Format(time.DateTime),
			owner,
		})
	}
	table.Render()
}

func stateColour(s domain.RaceState) color.Color {
	switch {
	case s.IsPreparation():
		return color.Cyan
	case s.IsRunning():
		return color.Yellow
	case s == domain.StateFinished:
		return color.Green
	}
	return color.Gray
}

func (a *app) open(ctx context.Context, args []string) error {
	flags := pflag.NewFlagSet("open", pflag.ContinueOnError)
	category := flags.String("category", "", "category slug")
	goal := flags.String("goal", "", "goal name")
	as := flags.Int64("as", 0, "id of the opening user")
	invitational := flags.Bool("invitational", false, "open as invitational")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *category == "" || *goal == "" || *as == 0 {
		return fmt.Errorf("--category, --goal and --as are required")
	}

	words, err := runtime.EmbeddedWords().LoadSlugWords("words/slugs")
	if err != nil {
		return err
	}
	clk := clock.Real()
	hub := runtime.NewHub(a.log, runtime.NewRegistry(), clk, time.Second)
	defer hub.Close()
	rooms := room.NewService(a.log, a.store, hub, a.codec, clk, nil, words, 5*time.Second)

	params := room.DefaultParams(*goal)
	params.Invitational = *invitational
	race, err := rooms.Open(ctx, domain.UserActor(*as), *category, params)
	if err != nil {
		return err
	}
	color.Green.Printf("Opened %s\n", race.Key().String())
	return nil
}

func (a *app) token(args []string) error {
	flags := pflag.NewFlagSet("token", pflag.ContinueOnError)
	user := flags.Int64("user", 0, "user id")
	bot := flags.Int64("bot", 0, "bot id")
	staff := flags.Bool("staff", false, "mark the user as staff")
	if err := flags.Parse(args); err != nil {
		return err
	}
	tokens, err := auth.NewTokens(a.config.JWTSecret, a.config.AuthTokenDuration, a.codec, clock.Real())
	if err != nil {
		return err
	}

	var actor domain.Actor
	switch {
	case *user != 0 && *bot != 0:
		return fmt.Errorf("--user and --bot are exclusive")
	case *bot != 0:
		actor = domain.BotActor(*bot)
	case *user != 0:
		actor = domain.UserActor(*user)
		actor.IsStaff = *staff
	default:
		return fmt.Errorf("one of --user or --bot is required")
	}
	raw, err := tokens.Issue(actor)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, raw)
	return nil
}

func newTable(out io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(out)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	return table
}
