package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/roach88/sprinkler/internal/discovery"
	"github.com/roach88/sprinkler/internal/engine"
)

// plantView is the listing form of a plant.
type plantView struct {
	Name         string `json:"name"`
	Mint         string `json:"mint"`
	Owner        string `json:"owner"`
	Address      string `json:"address"`
	Level        uint8  `json:"level"`
	Watered      uint32 `json:"watered"`
	WaterTimeout string `json:"water_timeout"`
	CanWater     bool   `json:"can_water"`
	Status       string `json:"status"`
}

// plantsListing is the JSON payload of the plants command.
type plantsListing struct {
	Now     string      `json:"now"`
	Dropped int         `json:"dropped"`
	Plants  []plantView `json:"plants"`
}

// NewPlantsCommand creates the plants command.
func NewPlantsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "plants",
		Short: "List plants and when they can be watered",
		Long: `List every decoded plant with its owner, next watering time and status.

Plants are ordered the way a run would water them: earliest next watering
time first, lower tier first among equal times. Nothing is sent.

Example:
  sprinkler plants
  sprinkler plants --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listPlants(rootOpts, cmd)
		},
	}
}

func listPlants(opts *RootOptions, cmd *cobra.Command) error {
	logger := opts.logger

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	client, err := newClient(opts, cfg, logger)
	if err != nil {
		return err
	}
	decoder, err := newDecoder(cfg, client, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	plants, stats, err := decoder.Discover(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to discover plants", err)
	}
	engine.SortByPriority(plants)

	clock := opts.Clock
	if clock == nil {
		clock = engine.SystemClock{}
	}
	now := clock.Now()

	listing := plantsListing{
		Now:     now.UTC().Format(time.RFC3339),
		Dropped: stats.Dropped,
		Plants:  make([]plantView, 0, len(plants)),
	}
	for _, p := range plants {
		listing.Plants = append(listing.Plants, newPlantView(p, now, cfg.DeadThreshold))
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if formatter.JSON() {
		return formatter.Success(listing)
	}
	return writePlantsTable(cmd.OutOrStdout(), listing)
}

func newPlantView(p discovery.Plant, now time.Time, deadThreshold time.Duration) plantView {
	next := time.Unix(p.WaterTimeout, 0)
	return plantView{
		Name:         p.Name.String(),
		Mint:         p.Mint.String(),
		Owner:        p.Owner.String(),
		Address:      p.Address.String(),
		Level:        p.Level,
		Watered:      p.Watered,
		WaterTimeout: next.UTC().Format(time.RFC3339),
		CanWater:     !now.Before(next),
		Status:       engine.StatusOf(p.WaterTimeout, now, deadThreshold).String(),
	}
}

var statusColors = map[string]*color.Color{
	engine.StatusActionable.String(): color.New(color.FgGreen),
	engine.StatusNotYetDue.String():  color.New(color.FgYellow),
	engine.StatusExpired.String():    color.New(color.FgRed),
}

func writePlantsTable(w io.Writer, listing plantsListing) error {
	if len(listing.Plants) == 0 {
		_, err := fmt.Fprintln(w, "No plants found.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tLEVEL\tNEXT WATER\tSTATUS\tOWNER\tADDRESS")
	for _, p := range listing.Plants {
		status := p.Status
		if c, ok := statusColors[p.Status]; ok {
			status = c.Sprint(p.Status)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n",
			p.Name, p.Level, p.WaterTimeout, status, p.Owner, p.Address)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if listing.Dropped > 0 {
		_, err := fmt.Fprintf(w, "%d plant(s) could not be decoded; see logs\n", listing.Dropped)
		return err
	}
	return nil
}
