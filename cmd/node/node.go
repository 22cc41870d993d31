package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/NatureBlueee/Towow-sub000/ai"
	"github.com/NatureBlueee/Towow-sub000/api"
	"github.com/NatureBlueee/Towow-sub000/api/handlers"
	"github.com/NatureBlueee/Towow-sub000/cascade"
	"github.com/NatureBlueee/Towow-sub000/communication"
	"github.com/NatureBlueee/Towow-sub000/config"
	"github.com/NatureBlueee/Towow-sub000/core"
	"github.com/NatureBlueee/Towow-sub000/echo"
	"github.com/NatureBlueee/Towow-sub000/encoder"
	"github.com/NatureBlueee/Towow-sub000/logging"
	"github.com/NatureBlueee/Towow-sub000/metrics"
	"github.com/NatureBlueee/Towow-sub000/negotiation"
	"github.com/NatureBlueee/Towow-sub000/offerpool"
	"github.com/NatureBlueee/Towow-sub000/profile"
	"github.com/NatureBlueee/Towow-sub000/projector"
	"github.com/NatureBlueee/Towow-sub000/registry"
	"github.com/NatureBlueee/Towow-sub000/storage"
	"github.com/NatureBlueee/Towow-sub000/threshold"
)

// Node is one resonance core process: storage, the negotiation pipeline,
// the optional message bus and the HTTP front.
type Node struct {
	cfg    config.Config
	logger *logrus.Entry

	db       *storage.DBStorage
	archive  *storage.ArchiveRepository
	broker   *core.NATSBroker
	hub      *communication.Hub
	metrics  *metrics.Metrics
	scenes   *config.Scenes
	tuner    *threshold.Tuner
	pool     *offerpool.Pool
	store    *profile.StoreSource
	proj     *projector.Projector
	crystals *projector.Crystallizer
	manager  *negotiation.Manager
	echoes   *echo.Collector
	flows    *echo.WorkflowListener
	server   *api.Server
	cron     *cron.Cron
	offerSub *nats.Subscription
}

// watcherRef lets the manager be built before the workflow listener that
// depends on it through the echo collector.
type watcherRef struct {
	listener *echo.WorkflowListener
}

func (w *watcherRef) Watch(n core.WorkflowNotice) error {
	if w.listener == nil {
		return errors.New("workflow listener not started")
	}
	return w.listener.Watch(n)
}

// NewNode assembles every component from cfg. Nothing runs until Start.
func NewNode(cfg config.Config) (*Node, error) {
	n := &Node{cfg: cfg, logger: logging.For("node"), metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			n.close()
		}
	}()

	dbCfg := storage.InMemoryConfig()
	if cfg.DataDir != "" {
		dbCfg = storage.DefaultConfig(cfg.DataDir)
		dbCfg.GCInterval = 0 // value-log GC runs from the maintenance schedule
	}
	db, err := storage.Open(dbCfg)
	if err != nil {
		return nil, err
	}
	n.db = db
	n.archive = storage.NewArchiveRepository(db)

	scenes, err := config.LoadScenes(cfg.ScenesFile, cfg.DefaultScene())
	if err != nil {
		return nil, err
	}
	n.scenes = scenes

	var llm *ai.Client
	if cfg.OpenAIKey != "" {
		lc := ai.DefaultLLMConfig()
		lc.APIKey = cfg.OpenAIKey
		lc.BaseURL = cfg.OpenAIBaseURL
		lc.RequestsPerSecond = cfg.LLMRate
		if cfg.ChatModel != "" {
			lc.ChatModel = cfg.ChatModel
		}
		if cfg.EmbeddingModel != "" {
			lc.EmbeddingModel = cfg.EmbeddingModel
		}
		if llm, err = ai.NewClient(lc); err != nil {
			return nil, err
		}
	}

	var emb encoder.Embedder = encoder.NewHashingEmbedder(cfg.HashingDim)
	if cfg.Embedder == config.EmbedderOpenAI {
		emb = ai.NewEmbedder(llm)
	}
	enc := encoder.New(emb, encoder.Config{Dim: cfg.HVDim, Seed: cfg.HVSeed, CacheTTL: cfg.EmbeddingCache})

	reg := registry.New()
	n.proj = projector.New(reg, enc, cfg.EmbeddingCache)
	if err := n.registerSources(llm); err != nil {
		return nil, err
	}
	n.crystals = projector.NewCrystallizer(n.proj, projector.DefaultCrystallizerConfig())

	n.hub = communication.NewHub()
	n.hub.OnConnections = n.metrics.WebSocket
	if cfg.NATSURL != "" {
		if n.broker, err = core.NewNATSBroker(cfg.NATSURL); err != nil {
			return nil, err
		}
	}

	n.tuner = threshold.NewTuner(threshold.DefaultTunerConfig())
	cascCfg := cascade.DefaultConfig()
	cascCfg.DefaultKStar = cfg.DefaultKStar
	cascOpts := []cascade.Option{cascade.WithTuner(n.tuner), cascade.WithMetrics(n.metrics)}
	var agg negotiation.Aggregator
	if llm != nil {
		cascOpts = append(cascOpts, cascade.WithEvaluator(ai.NewEvaluator(llm)))
		agg = ai.NewAggregator(llm, cfg.WorkflowPrefix)
	} else {
		qc := negotiation.DefaultQuorumConfig()
		qc.WorkflowPrefix = cfg.WorkflowPrefix
		agg = negotiation.NewQuorumAggregator(qc)
	}
	casc := cascade.New(n.proj, enc, threshold.NewController(), cascCfg, cascOpts...)

	mcfg := negotiation.DefaultConfig()
	mcfg.CollectTimeout = cfg.CollectTimeout
	mcfg.Round2Timeout = cfg.Round2Timeout
	mcfg.MinResponders = cfg.MinResponders
	n.pool = offerpool.New(cfg.ArchiveRetention)
	watcher := &watcherRef{}
	opts := []negotiation.Option{
		negotiation.WithExchanger(negotiation.NewProfileExchanger(n.proj)),
		negotiation.WithPool(n.pool),
		negotiation.WithArchive(n.archive),
		negotiation.WithHub(n.hub),
		negotiation.WithMetrics(n.metrics),
		negotiation.WithOfferObserver(n.tuner),
		negotiation.WithLensObserver(n.crystals),
	}
	if n.broker != nil {
		opts = append(opts,
			negotiation.WithBroker(n.broker),
			negotiation.WithMessenger(communication.NewMessengerFromConn(n.broker.Conn)),
			negotiation.WithContractWatcher(watcher),
		)
	}
	n.manager = negotiation.NewManager(casc, agg, n.scenes, mcfg, opts...)

	ecfg := echo.DefaultConfig()
	ecfg.ConsensusQuorum = cfg.EchoQuorum
	n.echoes = echo.NewCollector(n.proj, ecfg,
		echo.WithCancelChecker(n.manager),
		echo.WithOutcomeObserver(n.tuner),
		echo.WithMetrics(n.metrics),
		echo.WithHub(n.hub),
	)
	if n.broker != nil {
		n.flows = echo.NewWorkflowListener(n.broker, n.echoes)
		watcher.listener = n.flows
	}

	h := handlers.New(handlers.Handler{
		Manager:      n.manager,
		Projector:    n.proj,
		Crystallizer: n.crystals,
		Echoes:       n.echoes,
		Scenes:       n.scenes,
		Hub:          n.hub,
		Metrics:      n.metrics,
	})
	n.server, err = api.NewServer(api.ServerConfig{
		Port:      cfg.APIPort,
		RateLimit: cfg.RateLimit,
		RateBurst: cfg.RateBurst,
		Debug:     cfg.Environment != "production",
	}, h)
	if err != nil {
		return nil, err
	}

	n.cron = cron.New()
	if err := n.schedule(); err != nil {
		return nil, err
	}
	ok = true
	return n, nil
}

// registerSources binds the profile data sources and registers the agents
// they already hold.
func (n *Node) registerSources(llm *ai.Client) error {
	reg := n.proj.Registry()

	n.proj.RegisterSource(profile.SourceMemory, profile.NewMemorySource())

	n.store = profile.NewStoreSource(storage.NewProfileRepository(n.db))
	n.proj.RegisterSource(profile.SourceStore, n.store)
	stored, err := n.store.List()
	if err != nil {
		return fmt.Errorf("list stored profiles: %w", err)
	}
	for _, id := range stored {
		if err := reg.Register(core.AgentIdentity{ID: id, SourceType: profile.SourceStore, Type: core.AgentGeneral}); err != nil {
			n.logger.WithError(err).WithField("agent_id", id).Warn("Skipping stored agent")
		}
	}

	dir := n.cfg.TemplateDir
	if dir == "" {
		dir = profile.DefaultTemplateDir()
	}
	templates, err := profile.NewTemplateSource(dir)
	if err != nil {
		return err
	}
	if err := templates.CreateDefaultTemplates(); err != nil {
		return fmt.Errorf("write default templates: %w", err)
	}
	n.proj.RegisterSource(profile.SourceTemplate, templates)
	ids, err := templates.ListTemplates()
	if err != nil {
		return fmt.Errorf("list templates: %w", err)
	}
	for _, id := range ids {
		if _, err := reg.Get(id); err == nil {
			continue
		}
		if err := reg.Register(core.AgentIdentity{ID: id, SourceType: profile.SourceTemplate, Type: core.AgentGeneral}); err != nil {
			n.logger.WithError(err).WithField("agent_id", id).Warn("Skipping template agent")
		}
	}

	if llm != nil {
		n.proj.RegisterSource(profile.SourceChat, profile.NewChatSource(ai.NewProfileWriter(llm)))
	}
	n.logger.WithFields(logrus.Fields{
		"stored":    len(stored),
		"templates": len(ids),
		"chat":      llm != nil,
	}).Info("Profile sources registered")
	return nil
}

// schedule registers the maintenance jobs.
func (n *Node) schedule() error {
	jobs := []struct {
		spec string
		name string
		run  func()
	}{
		{n.cfg.TunerSchedule, "tune k*", n.reviseKStar},
		{n.cfg.CrystallizeSchedule, "crystallize", n.crystallize},
		{n.cfg.MaintenanceSchedule, "maintenance", n.maintain},
	}
	for _, j := range jobs {
		if _, err := n.cron.AddFunc(j.spec, j.run); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	return nil
}

func (n *Node) reviseKStar() {
	changed := n.tuner.Revise(n.scenes.BaseKStar)
	for scene, k := range changed {
		n.logger.WithFields(logrus.Fields{"scene_id": scene, "k_star": k}).Info("Revised k*")
	}
}

func (n *Node) crystallize() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for _, a := range n.crystals.DetectAll(ctx) {
		n.hub.Broadcast(communication.EventAgentRegistered, a)
	}
}

func (n *Node) maintain() {
	cutoff := time.Now().Add(-n.cfg.ArchiveRetention)
	evicted := n.manager.Evict(time.Now().Add(-time.Hour))
	archived, err := n.archive.EvictBefore(cutoff)
	if err != nil {
		n.logger.WithError(err).Warn("Archive eviction failed")
	}
	expired := n.pool.CleanupExpired()
	if n.cfg.DataDir != "" {
		if err := n.db.RunGC(); err != nil {
			n.logger.WithError(err).Debug("Value log GC skipped")
		}
	}
	n.logger.WithFields(logrus.Fields{
		"evicted":  evicted,
		"archived": archived,
		"expired":  len(expired),
	}).Debug("Maintenance done")
}

// subscribeOffers accepts offers from agents on the message bus.
func (n *Node) subscribeOffers() error {
	sub, err := n.broker.Subscribe(core.SubjectSignalOffers, func(msg *nats.Msg) {
		var in negotiation.InboundOffer
		if err := core.DecodeJSON(msg.Data, &in); err != nil {
			n.logger.WithError(err).Warn("Malformed inbound offer")
			return
		}
		var err error
		if in.Decline {
			err = n.manager.Decline(in.NegotiationID, in.Offer.AgentID)
		} else {
			err = n.manager.SubmitOffer(in.NegotiationID, in.Offer)
		}
		if err != nil {
			n.logger.WithError(err).WithFields(logrus.Fields{
				"negotiation_id": in.NegotiationID,
				"agent_id":       in.Offer.AgentID,
			}).Debug("Inbound offer rejected")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", core.SubjectSignalOffers, err)
	}
	n.offerSub = sub
	return nil
}

// Start runs the maintenance schedule, the bus subscriptions and the API
// server. It returns when the server stops.
func (n *Node) Start(ctx context.Context) error {
	if n.broker != nil {
		if err := n.subscribeOffers(); err != nil {
			return err
		}
	}
	n.cron.Start()
	n.logger.WithFields(logrus.Fields{
		"agents":   n.proj.Registry().Size(),
		"embedder": n.cfg.Embedder,
		"nats":     n.broker != nil,
	}).Info("Node started")

	errCh := make(chan error, 1)
	go func() { errCh <- n.server.Start() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return nil
	}
}

// Stop drains the API and releases every resource.
func (n *Node) Stop(ctx context.Context) error {
	var err error
	if n.server != nil {
		err = n.server.Shutdown(ctx)
	}
	if n.cron != nil {
		<-n.cron.Stop().Done()
	}
	n.close()
	return err
}

func (n *Node) close() {
	if n.offerSub != nil {
		_ = n.offerSub.Unsubscribe()
	}
	if n.flows != nil {
		n.flows.Close()
	}
	if n.broker != nil {
		n.broker.Close()
	}
	if n.hub != nil {
		n.hub.Stop()
	}
	if n.db != nil {
		if err := n.db.Close(); err != nil {
			n.logger.WithError(err).Warn("Failed to close store")
		}
	}
}

// Manager exposes the negotiation manager, for embedding and tests.
func (n *Node) Manager() *negotiation.Manager { return n.manager }

// Server exposes the API server, for embedding and tests.
func (n *Node) Server() *api.Server { return n.server }
