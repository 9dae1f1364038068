package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/b1naryth1ef/atlas"
	"github.com/b1naryth1ef/atlas/app"
	"github.com/urfave/cli/v2"
)

var configFlag = &cli.PathFlag{
	Name:  "config",
	Usage: "path to the configuration file (.hcl, .yaml or .yml)",
	Value: "config.hcl",
}

func main() {
	app := &cli.App{
		Name:        "atlas",
		Description: "incremental minecraft map renderer",
		Commands: []*cli.Command{
			{
				Name:   "build",
				Usage:  "render every stored region of the configured dimension",
				Action: commandBuild,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "all",
						Usage: "re-render regions that already have a tile",
						Value: false,
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "map the area around the player and serve the map viewer",
				Action: commandServe,
				Flags:  []cli.Flag{configFlag},
			},
			{
				Name:   "save",
				Usage:  "export one map variant to a single image",
				Action: commandSave,
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{
						Name:  "variant",
						Usage: "day, night, topo or an underground slice number",
						Value: "day",
					},
				},
			},
			{
				Name:   "delete",
				Usage:  "delete the map of the configured dimension",
				Action: commandDelete,
				Flags: []cli.Flag{
					configFlag,
					&cli.BoolFlag{
						Name:  "all-dimensions",
						Usage: "delete the maps of every dimension",
						Value: false,
					},
				},
			},
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
	}
}

func withApp(ctx *cli.Context, fn func(context.Context, *app.App) error) error {
	config, err := atlas.LoadConfig(ctx.Path("config"))
	if err != nil {
		return err
	}

	sigCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(sigCtx, config)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(sigCtx, a)
}

func commandBuild(ctx *cli.Context) error {
	return withApp(ctx, func(c context.Context, a *app.App) error {
		return a.Build(c, ctx.Bool("all"))
	})
}

func commandServe(ctx *cli.Context) error {
	return withApp(ctx, func(c context.Context, a *app.App) error {
		return a.Serve(c)
	})
}

func commandSave(ctx *cli.Context) error {
	variant, err := atlas.ParseVariant(ctx.String("variant"))
	if err != nil {
		return err
	}

	return withApp(ctx, func(c context.Context, a *app.App) error {
		path, err := a.Save(c, variant)
		if err != nil {
			return err
		}
		log.Printf("saved %v map to %s", variant, path)
		return nil
	})
}

func commandDelete(ctx *cli.Context) error {
	return withApp(ctx, func(c context.Context, a *app.App) error {
		result, err := a.DeleteMap(c, ctx.Bool("all-dimensions"))
		for dir, derr := range result.Dirs {
			if derr == nil {
				log.Printf("deleted %s", dir)
			}
		}
		return err
	})
}
