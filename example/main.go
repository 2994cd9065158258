/**
 * Copyright 2020 TryFix Engineering.
 * All rights reserved.
 * Authors:
 *    Gayan Yapa (gmbyapa@gmail.com)
 */

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/riferrei/srclient"
	"github.com/tryfix/log"
	"github.com/tryfix/schemaregistry/v3"
)

func main() {
	configPath := flag.String(`config`, ``, `path to a yaml config`)
	flag.Parse()

	conf, err := LoadConfigFile(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger := log.NewLog().Log(log.WithLevel(conf.Level()), log.WithColors(false))

	store, err := conf.OpenStore(ctx)
	if err != nil {
		log.Fatal(err)
	}

	// init a new schema registry instance on top of the configured store
	registry, err := schemaregistry.NewRegistry(
		schemaregistry.WithLogger(logger),
		schemaregistry.WithStore(store),
		schemaregistry.WithDefaultCompatibility(conf.Mode()),
	)
	if err != nil {
		log.Fatal(err)
	}
	defer registry.Close()

	if conf.Remote.URL != `` {
		added, err := registry.Sync(ctx, srclient.CreateSchemaRegistryClient(conf.Remote.URL), schemaregistry.SyncOptions{
			Subjects: conf.Remote.Subjects,
			Interval: conf.Remote.Interval,
		})
		if err != nil {
			log.Fatal(err)
		}
		logger.Info(fmt.Sprintf(`%d remote version/s imported`, added))
	}

	if err := demo(ctx, registry, logger); err != nil {
		log.Fatal(err)
	}

	if err := registry.Print(ctx, os.Stdout); err != nil {
		log.Fatal(err)
	}

	if conf.Remote.URL != `` && conf.Remote.Interval > 0 {
		logger.Info(`syncing in background, interrupt to exit`)
		<-ctx.Done()
	}
}

func demo(ctx context.Context, registry *schemaregistry.Registry, logger log.Logger) error {
	name := fmt.Sprintf(`com.org.events.order.%s`, uuid.NewString()[:8])

	if _, err := registry.CreateSchema(ctx, name, schemaregistry.SchemaOptions{
		Format:        schemaregistry.FormatJSON,
		Compatibility: schemaregistry.CompatibilityBackward,
		Description:   `order events`,
		Tags:          map[string]string{`team`: `orders`},
		Definition:    []byte(`{"type":"object","required":["orderId","amount"]}`),
	}); err != nil {
		return err
	}

	res, err := registry.RegisterVersion(ctx, name, []byte(`{
		"type": "object",
		"required": ["orderId", "amount"],
		"properties": {"status": {"type": "string"}}
	}`))
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf(`%s version %d registered as %s`, name, res.VersionNumber, res.VersionID))

	check, err := registry.CheckCompatibility(ctx, name, []byte(`{"type":"object","required":["orderId"]}`))
	if err != nil {
		return err
	}
	for _, v := range check.Violations {
		logger.Warn(fmt.Sprintf(`candidate rejected: %s`, v))
	}

	v, err := registry.GetSchemaVersion(ctx, name, schemaregistry.VersionLatest)
	if err != nil {
		return err
	}
	logger.Info(fmt.Sprintf(`latest version %d: %s`, v.Number, v.Definition))

	return nil
}
