package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/cfoust/strata/pkg/api"
	"github.com/cfoust/strata/pkg/archive"
	"github.com/cfoust/strata/pkg/config"
	"github.com/cfoust/strata/pkg/exchange"
	"github.com/cfoust/strata/pkg/host"
	"github.com/cfoust/strata/pkg/idmap"
	"github.com/cfoust/strata/pkg/terrain"
	"github.com/cfoust/strata/pkg/utils"

	"github.com/repeale/fp-go/option"
	"github.com/rs/zerolog/log"
)

func start(ctx context.Context, configs []string) (*host.Host, error) {
	config, err := config.Process(configs)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	h := host.New(config)
	err = h.Start(ctx)
	if err != nil {
		h.Shutdown()
		return nil, err
	}

	return h, nil
}

func serveCommand(configs []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h, err := start(ctx, configs)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	changes := h.Terrains.Subscribe()
	defer changes.Done()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case change := <-changes.Recv():
				log.Debug().
					Str("kind", string(change.Kind)).
					Interface("ids", change.IDs).
					Msg("terrains changed")
			}
		}
	}()

	server := api.New(ctx, h.Terrains, h.Archive, h.Config.Module.ID)
	defer server.Shutdown()

	errc := make(chan error, 1)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/api/", server)

		address := fmt.Sprintf("0.0.0.0:%d", h.Config.API.Port)
		log.Info().Str("address", address).Msg("serving terrain api")
		errc <- http.ListenAndServe(
			address,
			NoStore(api.LogRequests(mux)),
		)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	signal.Notify(sigs, os.Kill)

	select {
	case err := <-errc:
		log.Printf("failed to serve: %v", err)
		return err
	case sig := <-sigs:
		log.Printf("terminating: %v", sig)
	}

	return nil
}

func listCommand(configs []string) error {
	ctx := context.Background()
	h, err := start(ctx, configs)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "ID\tNAME\tANCHOR\tMIN\tMAX\tVISIBLE")
	for _, entry := range h.Terrains.All() {
		config, err := entry.Terrain.Config(ctx)
		if err != nil {
			return err
		}

		band, err := entry.Terrain.ElevationMinMax(ctx, CLI.List.Anchor)
		if err != nil {
			return err
		}

		fmt.Fprintf(
			writer,
			"%d\t%s\t%s\t%g\t%g\t%t\n",
			entry.ID,
			config.Name,
			config.Anchor,
			band.Min,
			band.Max,
			config.UserVisible,
		)
	}
	return writer.Flush()
}

func exportCommand(configs []string) error {
	ctx := context.Background()
	h, err := start(ctx, configs)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	var document *terrain.Document
	path := CLI.Export.Path
	moduleID := h.Config.Module.ID

	if CLI.Export.ID != 0 {
		id := idmap.ID(CLI.Export.ID)
		document, err = h.Terrains.ExportOne(ctx, id)
		if err != nil {
			return err
		}

		if path == "" {
			path = exchange.TerrainFilename(moduleID, document.Terrains[0].Name)
		}
	} else {
		document, err = h.Terrains.ExportAll(ctx)
		if err != nil {
			return err
		}

		if path == "" {
			path = exchange.Filename(moduleID)
		}
	}

	if CLI.Export.Archive {
		return archive.Save(ctx, h.Archive, path, document)
	}

	err = exchange.WriteFile(path, document)
	if err != nil {
		return err
	}

	log.Info().
		Str("path", path).
		Int("terrains", len(document.Terrains)).
		Msg("exported terrains")
	return nil
}

func readDocument(ctx context.Context, h *host.Host, path string, fromArchive bool) (*terrain.Document, error) {
	if fromArchive {
		return archive.Load(ctx, h.Archive, path)
	}
	return exchange.ReadFile(path)
}

func importCommand(configs []string) error {
	ctx := context.Background()
	h, err := start(ctx, configs)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	document, err := readDocument(ctx, h, CLI.Import.Path, CLI.Import.Archive)
	if err != nil {
		return err
	}

	if CLI.Import.ID != 0 {
		id := idmap.ID(CLI.Import.ID)
		err = h.Terrains.ImportOne(ctx, id, document)
		if err != nil {
			return err
		}

		log.Info().Int("id", int(id)).Msg("imported terrain")
		return nil
	}

	ids, err := h.Terrains.ImportAdditive(ctx, document)
	if err != nil {
		return err
	}

	log.Info().Interface("ids", ids).Msg("imported terrains")
	return nil
}

func replaceCommand(configs []string) error {
	ctx := context.Background()
	h, err := start(ctx, configs)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	document, err := readDocument(ctx, h, CLI.Replace.Path, CLI.Replace.Archive)
	if err != nil {
		return err
	}

	ids, err := h.Terrains.ReplaceAll(ctx, document)
	if err != nil {
		return err
	}

	log.Info().Interface("ids", ids).Msg("replaced terrains")
	return nil
}

func resetCommand(configs []string) error {
	ctx := context.Background()
	h, err := start(ctx, configs)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	return h.Terrains.Reset(ctx)
}

func inspectCommand(configs []string) error {
	ctx := context.Background()
	h, err := start(ctx, configs)
	if err != nil {
		return err
	}
	defer h.Shutdown()

	if CLI.Inspect.ID == 0 {
		document, err := h.Terrains.ExportAll(ctx)
		if err != nil {
			return err
		}

		fmt.Print(utils.SDump(document))
		return nil
	}

	id := idmap.ID(CLI.Inspect.ID)
	entry := h.Terrains.Get(id)
	if opt.IsNone(entry) {
		return fmt.Errorf("%w: %d", terrain.ErrUnknownTerrain, id)
	}

	portable, err := entry.Value.ToPortable(ctx)
	if err != nil {
		return err
	}

	fmt.Print(utils.SDump(portable))
	return nil
}
