package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/cespare/xxhash"
	"github.com/ergochat/readline"
	"github.com/ramlog/ramlog"
	"github.com/ramlog/ramlog/backup"
	"github.com/ramlog/ramlog/cluster"
	"github.com/ramlog/ramlog/config"
	"github.com/ramlog/ramlog/utils"
)

var completer = readline.NewPrefixCompleter(
	readline.PcItem("help"),
	readline.PcItem("backups"),
	readline.PcItem("open"),
	readline.PcItem("write"),
	readline.PcItem("close"),
	readline.PcItem("free"),
	readline.PcItem("sync"),
	readline.PcItem("show"),
	readline.PcItem("exit"),
	readline.PcItem("quit"),
)

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

const segmentCap = 1 << 20

var ErrUnknownSegment = errors.New("unknown segment")
var ErrSegmentFull = errors.New("segment buffer full")

type segmentHandle struct {
	seg  *ramlog.ReplicatedSegment
	data []byte
	used uint32
}

// repl drives one in-process master; backups are either local pebble
// stores or remote daemons from the config's seed list.
type repl struct {
	mgr      *ramlog.ReplicaManager
	members  *cluster.StaticClient
	stores   map[cluster.ServerId]*backup.Store
	segments map[uint64]*segmentHandle
	masterId cluster.ServerId
}

func newRepl(cfg *config.Config, log utils.Logger) (*repl, error) {
	r := &repl{
		stores:   make(map[cluster.ServerId]*backup.Store),
		segments: make(map[uint64]*segmentHandle),
		masterId: cluster.ServerId(xxhash.Sum64String(cfg.Node.ID)),
	}

	var backups backup.Client
	var nodes []cluster.Node
	if len(cfg.Backups) > 0 {
		remote := backup.NewRemoteClient(log)
		for _, seed := range cfg.Backups {
			nodes = append(nodes, cluster.Node{
				ServerId:      cluster.ServerId(seed.ServerId),
				Locator:       "tcp://" + seed.Address,
				FailureDomain: seed.FailureDomain,
			})
		}
		backups = remote
	} else {
		// no seeds configured; run a whole cluster in this process
		client := backup.NewStoreClient()
		for id := cluster.ServerId(1); id <= 3; id++ {
			dir, err := os.MkdirTemp("", "ramlog-backup-*")
			if err != nil {
				return nil, err
			}
			store, err := backup.OpenStore(dir, log)
			if err != nil {
				return nil, err
			}
			r.stores[id] = store
			client.AddStore(id, store)
			nodes = append(nodes, cluster.Node{
				ServerId:      id,
				FailureDomain: fmt.Sprintf("local%d", id),
			})
		}
		backups = client
	}
	r.members = cluster.NewStaticClient(nodes...)

	master := &cluster.ServerIdHolder{}
	master.Set(r.masterId)

	mgr, err := ramlog.Open(ramlog.Options{
		Logger:               log,
		NumReplicas:          cfg.Replication.NumReplicas,
		MaxWriteRpcsInFlight: cfg.Replication.MaxWriteRpcsInFlight,
		Backups:              backups,
		Cluster:              r.members,
		MasterId:             master,
	})
	if err != nil {
		return nil, err
	}
	r.mgr = mgr
	return r, nil
}

func (r *repl) open(id uint64, text string) error {
	if _, ok := r.segments[id]; ok {
		return fmt.Errorf("segment %d already open", id)
	}
	data := make([]byte, segmentCap)
	n := copy(data, text)
	h := &segmentHandle{data: data, used: uint32(n)}
	h.seg = r.mgr.OpenSegment(id, data, h.used)
	r.segments[id] = h
	return nil
}

func (r *repl) write(id uint64, text string) error {
	h, ok := r.segments[id]
	if !ok {
		return ErrUnknownSegment
	}
	if int(h.used)+len(text) > len(h.data) {
		return ErrSegmentFull
	}
	copy(h.data[h.used:], text)
	h.used += uint32(len(text))
	h.seg.Write(h.used)
	return nil
}

func (r *repl) close(id uint64) error {
	h, ok := r.segments[id]
	if !ok {
		return ErrUnknownSegment
	}
	h.seg.Close()
	return nil
}

func (r *repl) free(id uint64) error {
	h, ok := r.segments[id]
	if !ok {
		return ErrUnknownSegment
	}
	h.seg.Free()
	delete(r.segments, id)
	return nil
}

func (r *repl) show(id uint64) error {
	if len(r.stores) == 0 {
		return errors.New("show needs in-process backups")
	}
	for sid, store := range r.stores {
		bytes, found, err := store.ReplicaBytes(r.masterId, id)
		if err != nil {
			return err
		}
		if !found {
			fmt.Printf("backup %d: no replica\n", sid)
			continue
		}
		fmt.Printf("backup %d: %d bytes %q\n", sid, len(bytes), string(bytes))
	}
	return nil
}

func (r *repl) shutdown() {
	r.mgr.Close()
	for _, store := range r.stores {
		_ = store.Close()
	}
}

func parseId(args []string) (uint64, error) {
	if len(args) == 0 {
		return 0, errors.New("segment id expected")
	}
	return strconv.ParseUint(args[0], 10, 64)
}

func main() {
	cfg := config.Default()
	if len(os.Args) > 1 {
		var err error
		cfg, err = config.Read(os.Args[1])
		if err != nil {
			_, _ = fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(-2)
		}
	}
	cfg.PopulateDefaults()
	if err := cfg.Validate(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-2)
	}

	log := utils.NewDefaultLogger(slog.LevelWarn)
	r, err := newRepl(cfg, log)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(-1)
	}

	l, err := readline.NewEx(&readline.Config{
		Prompt:          "◌ ",
		HistoryFile:     "/tmp/readline.tmp",
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",

		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		panic(err)
	}
	defer l.Close()
	l.CaptureExitSignal()

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			} else {
				continue
			}
		} else if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		args := strings.Split(line, " ")
		cmd := args[0]
		args = args[1:]
		err = nil
		switch cmd {
		case "help":
			fmt.Println("open <id> <text> | write <id> <text> | close <id> | free <id> | sync | show <id> | backups")
		case "backups":
			for _, n := range r.members.EnumerateBackups() {
				fmt.Printf("%d\t%s\t%s\n", n.ServerId, n.Locator, n.FailureDomain)
			}
		case "open":
			var id uint64
			if id, err = parseId(args); err == nil {
				err = r.open(id, strings.Join(args[1:], " "))
			}
		case "write":
			var id uint64
			if id, err = parseId(args); err == nil {
				err = r.write(id, strings.Join(args[1:], " "))
			}
		case "close":
			var id uint64
			if id, err = parseId(args); err == nil {
				err = r.close(id)
			}
		case "free":
			var id uint64
			if id, err = parseId(args); err == nil {
				err = r.free(id)
			}
		case "sync":
			r.mgr.Sync()
			fmt.Println("synced")
		case "show":
			var id uint64
			if id, err = parseId(args); err == nil {
				err = r.show(id)
			}
		case "exit", "quit":
			r.shutdown()
			os.Exit(0)
		default:
			_, _ = fmt.Fprintf(os.Stderr, "command unknown: %s\n", cmd)
		}

		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "Error executing %s: %s\n", cmd, err.Error())
		}
	}
	r.shutdown()
}
