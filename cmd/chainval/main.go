// Command chainval is the CLI front end for the chain validation
// engine: point it at a config file and a batch of leaf certificates
// and it reports a verdict per certificate, the way gpgsm's own
// --validate mode does for an operator at a terminal.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/beeker1121/goque"
	"github.com/go-redis/redis/v8"
	"github.com/hpcloud/tail"
	"github.com/jmhodges/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/pki-tools/chainvalidator/caconstraint"
	"github.com/pki-tools/chainvalidator/certview"
	"github.com/pki-tools/chainvalidator/chainvalidator"
	"github.com/pki-tools/chainvalidator/core"
	"github.com/pki-tools/chainvalidator/cvconfig"
	"github.com/pki-tools/chainvalidator/dirmngr"
	"github.com/pki-tools/chainvalidator/extcheck"
	"github.com/pki-tools/chainvalidator/goodkey"
	"github.com/pki-tools/chainvalidator/issuerdb"
	blog "github.com/pki-tools/chainvalidator/log"
	"github.com/pki-tools/chainvalidator/metrics"
	"github.com/pki-tools/chainvalidator/metrics/measured_http"
	"github.com/pki-tools/chainvalidator/policy"
	"github.com/pki-tools/chainvalidator/qualified"
	"github.com/pki-tools/chainvalidator/regtp"
	"github.com/pki-tools/chainvalidator/revocation"
	"github.com/pki-tools/chainvalidator/trustanchor"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON config file, or an s3:// URI")
	queueDir := flag.String("queue-dir", "", "directory for the crash-resilient batch queue; empty disables persistence")
	followAudit := flag.String("follow-audit-log", "", "tail this audit log path to stderr instead of running a batch")
	concurrency := flag.Int("concurrency", 8, "number of certificates validated concurrently")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus /metrics on; empty disables it")
	flag.Parse()

	if *configPath == "" {
		fmt.Fprintln(os.Stderr, "chainval: -config is required")
		os.Exit(2)
	}

	ctx := context.Background()
	log := blog.NewStderr()

	if *followAudit != "" {
		if err := followLog(*followAudit); err != nil {
			log.AuditErr(err.Error())
			os.Exit(1)
		}
		return
	}

	cfg, err := cvconfig.Load(ctx, *configPath)
	if err != nil {
		log.AuditErr(err.Error())
		os.Exit(1)
	}

	registerer := prometheus.NewRegistry()
	scope := metrics.NewPromScope(registerer, "chainval")
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(prometheus.Gatherers{registerer, prometheus.DefaultGatherer}, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddr, measured_http.New(mux, clock.New())); err != nil {
				log.AuditErr(fmt.Sprintf("metrics server: %v", err))
			}
		}()
	}

	v, cleanup, err := buildValidator(ctx, cfg, log)
	if err != nil {
		log.AuditErr(err.Error())
		os.Exit(1)
	}
	defer cleanup()

	targets := flag.Args()
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "chainval: no certificates given")
		os.Exit(2)
	}

	jobs, jobsCleanup, err := newJobQueue(*queueDir, targets)
	if err != nil {
		log.AuditErr(err.Error())
		os.Exit(1)
	}
	defer jobsCleanup()

	side := certview.NewSideData()
	sess := chainvalidator.NewSession()

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(*concurrency))

	results := make(chan batchResult, len(targets))
	for {
		path, ok, err := jobs.next()
		if err != nil {
			log.AuditErr(err.Error())
			break
		}
		if !ok {
			break
		}
		path := path
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			results <- validateOne(gctx, v, sess, side, scope, path)
			return nil
		})
	}

	go func() {
		_ = g.Wait()
		close(results)
	}()

	exitCode := 0
	enc := json.NewEncoder(os.Stdout)
	for res := range results {
		if err := enc.Encode(res); err != nil {
			log.AuditErr(err.Error())
		}
		if res.ErrorKind != core.OK.String() {
			exitCode = 1
		}
	}
	os.Exit(exitCode)
}

type batchResult struct {
	Path            string `json:"path"`
	ErrorKind       string `json:"errorKind"`
	NearestNotAfter string `json:"nearestNotAfter,omitempty"`
	Error           string `json:"error,omitempty"`
}

func validateOne(ctx context.Context, v *chainvalidator.Validator, sess *chainvalidator.Session, side *certview.SideData, scope metrics.Scope, path string) batchResult {
	scope.Inc("certificates_processed", 1)

	der, err := os.ReadFile(path)
	if err != nil {
		scope.Inc("read_errors", 1)
		return batchResult{Path: path, ErrorKind: core.General.String(), Error: err.Error()}
	}
	cert, err := certview.New(der, side)
	if err != nil {
		scope.Inc("parse_errors", 1)
		return batchResult{Path: path, ErrorKind: core.General.String(), Error: err.Error()}
	}
	res := v.Validate(ctx, sess, &core.ValidationRequest{Target: cert, Now: time.Now()})
	scope.NewScope(res.ErrorKind.String()).Inc("count", 1)
	return batchResult{Path: path, ErrorKind: res.ErrorKind.String(), NearestNotAfter: res.NearestNotAfter}
}

// jobQueue resumes a batch from a crash by tracking the remaining
// input paths in a disk-backed FIFO when queueDir is set, rather than
// just iterating the in-memory slice.
type jobQueue struct {
	q      *goque.Queue
	static []string
	idx    int
}

func newJobQueue(queueDir string, targets []string) (*jobQueue, func(), error) {
	if queueDir == "" {
		return &jobQueue{static: targets}, func() {}, nil
	}

	q, err := goque.OpenQueue(queueDir)
	if err != nil {
		return nil, func() {}, fmt.Errorf("opening batch queue at %s: %w", queueDir, err)
	}
	if q.Length() == 0 {
		for _, t := range targets {
			if _, err := q.EnqueueString(t); err != nil {
				q.Close()
				return nil, func() {}, fmt.Errorf("enqueueing %s: %w", t, err)
			}
		}
	}
	return &jobQueue{q: q}, func() { q.Close() }, nil
}

func (j *jobQueue) next() (string, bool, error) {
	if j.q == nil {
		if j.idx >= len(j.static) {
			return "", false, nil
		}
		path := j.static[j.idx]
		j.idx++
		return path, true, nil
	}
	item, err := j.q.Dequeue()
	if err == goque.ErrEmpty {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return item.ToString(), true, nil
}

func followLog(path string) error {
	t, err := tail.TailFile(path, tail.Config{Follow: true, ReOpen: true})
	if err != nil {
		return fmt.Errorf("tailing %s: %w", path, err)
	}
	for line := range t.Lines {
		fmt.Fprintln(os.Stderr, line.Text)
	}
	return t.Err()
}

func buildValidator(ctx context.Context, cfg *cvconfig.Config, log blog.Logger) (*chainvalidator.Validator, func(), error) {
	dbMap, err := issuerdb.NewDbMap(cfg.Database.Driver, cfg.Database.DSN, log)
	if err != nil {
		return nil, nil, err
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	ephemeralTTL := time.Duration(cfg.Redis.EphemeralTTLSeconds) * time.Second

	dm := dirmngr.New(cfg.Dirmngr.BaseURL, dirmngr.WithResolver(cfg.Dirmngr.ResolverAddr))

	side := certview.NewSideData()
	keydb := issuerdb.New(dbMap, redisClient, dm, side, issuerdb.Config{
		AutoIssuerKeyRetrieve: true,
		EphemeralTTL:          ephemeralTTL,
	}, log)

	qlist, err := qualified.Load(cfg.QualifiedListFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading qualified-root list: %w", err)
	}

	regtpWorkaround := regtp.New(keydb, qlist)
	caCheck := caconstraint.New(regtpWorkaround)
	extCheck := extcheck.New(nil)
	polCheck := policy.New(cfg.PolicyFile, log)

	trustanchor.InitTables(dbMap)
	trust := trustanchor.New(dbMap, qlist)

	oracle := revocation.New(dm, keydb, cfg.Validation.NoCRLCheck)
	qualifiedClassifier := qualified.New(qlist)

	vcfg := chainvalidator.Config{
		NoChainValidation:      cfg.Validation.NoChainValidation,
		NoPolicyCheck:          cfg.Validation.NoPolicyCheck,
		NoCRLCheck:             cfg.Validation.NoCRLCheck,
		NoTrustedCertCRLCheck:  cfg.Validation.NoTrustedCertCRLCheck,
		IgnoreExpiration:       cfg.Validation.IgnoreExpiration,
		UseOCSP:                cfg.Validation.UseOCSP,
		MaxBadSignatureRetries: cfg.Validation.MaxBadSignatureRetries,
	}

	weakKeys, err := goodkey.LoadList(cfg.WeakKeyDir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading weak-key list: %w", err)
	}

	v := chainvalidator.New(keydb, oracle, polCheck, trust, extCheck, caCheck, qualifiedClassifier, vcfg, log,
		chainvalidator.WithWeakKeyList(weakKeys))

	cleanup := func() {
		redisClient.Close()
		_ = dbMap.Db.Close()
	}
	return v, cleanup, nil
}
