package main

//go-build: CGO_ENABLED=0

import (
	"flag"
	"log"

	fx "github.com/robotalks/boardlink/pkg/framework"
	"github.com/robotalks/boardlink/pkg/link/bridge/mqtt"
	"github.com/robotalks/boardlink/pkg/link/config"
)

func init() {
	config.SetupFlags()
}

func main() {
	flag.Parse()

	conf := config.NewConfig()
	if err := conf.Load(); err != nil {
		log.Fatalln(err)
	}

	opts, topicPrefix, err := mqtt.ClientOptionsFromURL(conf.MQTTURL)
	if err != nil {
		log.Fatalln(err)
	}
	if opts.ClientID == "" {
		opts.SetClientID(mqtt.DefaultClientID(conf.Board))
	}
	runner := fx.NewRunner().HandleSignals()
	codec, ch := conf.MustOpen(runner.Context)

	q := mqtt.NewQueue(opts, topicPrefix)
	if err = q.Connect(); err != nil {
		ch.Close()
		log.Fatalln(err)
	}

	bridge := mqtt.NewBridge(codec, q, conf.Board)
	bridge.Filter = conf.FilterMagic()
	bridge.Capacity = conf.Capacity

	runner.Go(bridge, fx.NamedRun("link-closer", fx.CloseOnCancel(ch))).RunOrFail(q)
}
