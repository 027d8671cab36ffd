package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/RobsonDevCode/advidex/cmd"
	"github.com/RobsonDevCode/advidex/internal/advisories/catalog"
	"github.com/RobsonDevCode/advidex/internal/advisories/sources"
	cache "github.com/RobsonDevCode/advidex/internal/caching"
	"github.com/RobsonDevCode/advidex/internal/configuration"
	"github.com/RobsonDevCode/advidex/internal/notify"
	"github.com/RobsonDevCode/advidex/internal/sbom"
	"github.com/RobsonDevCode/advidex/internal/storage"
	ingestservice "github.com/RobsonDevCode/advidex/internal/services/ingestService"
	matchservice "github.com/RobsonDevCode/advidex/internal/services/matchService"
	summaryservice "github.com/RobsonDevCode/advidex/internal/services/summaryService"
)

func main() {

	config, err := configuration.Load(configuration.FilePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("error starting command line: %s", err.Error())
			return
		}
		config = configuration.Default()
	}

	store, err := storage.NewSqliteStore(config.Storage.Path)
	if err != nil {
		fmt.Printf("error starting command line: %s", err.Error())
		return
	}
	defer store.Close()

	cacheInstance := cache.Cache{}
	feedClient := sources.NewFeedClient(&cacheInstance)
	staging := catalog.NewCache(config.Catalog.StagingDir)

	feeds, err := sources.Build(config.Sources, feedClient, staging)
	if err != nil {
		fmt.Printf("error starting command line: %s", err.Error())
		return
	}

	inventory := sbom.NewStoreInventory(store)
	ingestor := ingestservice.NewIngestor(feeds, staging, store, config.Workers, config.Catalog)
	matcher := matchservice.NewMatcher(store, inventory, config.Matching)
	notifier := notify.NewSlackNotifier(config.Notify.SlackWebhook)
	summarizer := summaryservice.NewSummarizer(store, notifier, config.Projects)

	// cant DI directly into the command so we use a setter
	cmd.SetConfig(config)
	cmd.SetStore(store)
	cmd.SetIngestService(ingestor)
	cmd.SetMatchService(matcher)
	cmd.SetSummaryService(summarizer)
	cmd.Execute()
}
