// Command zvdbd is a single-node gRPC query endpoint over one zvdb
// database, adapted from the teacher's cmd/server/main.go manual
// grpc.ServiceDesc + JSON-codec pattern (no protobuf/.proto file,
// same as the teacher). The teacher's -peers federation flag and its
// fan-out query-merge logic are dropped entirely: multi-node
// replication is an explicit Non-goal, so this server only ever
// answers for its own *storage.DB (see DESIGN.md).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/zvdb/zvdb/internal/config"
	"github.com/zvdb/zvdb/internal/executor"
	"github.com/zvdb/zvdb/internal/storage"
)

var (
	flagData   = flag.String("data", "./zvdb-data", "data directory")
	flagGRPC   = flag.String("grpc", ":9090", "gRPC listen address")
	flagHTTP   = flag.String("http", ":8080", "HTTP status listen address (empty to disable)")
	flagConfig = flag.String("config", "", "optional YAML config file")
)

// jsonCodec registers a plain-JSON wire codec with grpc-go, the same
// trick cmd/server/main.go uses to avoid a protobuf toolchain.
type jsonCodec struct{}

func (jsonCodec) Name() string                       { return "json" }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// ZVDBServer is the hand-described gRPC service surface: one Exec RPC
// for INSERT/UPDATE/DELETE, one Query RPC for SELECT.
type ZVDBServer interface {
	Exec(context.Context, *execRequest) (*execResponse, error)
	Query(context.Context, *queryRequest) (*queryResponse, error)
}

func registerZVDBServer(s *grpc.Server, srv ZVDBServer) {
	s.RegisterService(&grpc.ServiceDesc{
		ServiceName: "zvdb.ZVDB",
		HandlerType: (*ZVDBServer)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "Exec", Handler: _ZVDB_Exec_Handler},
			{MethodName: "Query", Handler: _ZVDB_Query_Handler},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "zvdb",
	}, srv)
}

func _ZVDB_Exec_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(execRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ZVDBServer).Exec(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zvdb.ZVDB/Exec"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(ZVDBServer).Exec(ctx, req.(*execRequest)) }
	return interceptor(ctx, in, info, handler)
}

func _ZVDB_Query_Handler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(queryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ZVDBServer).Query(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/zvdb.ZVDB/Query"}
	handler := func(ctx context.Context, req any) (any, error) { return srv.(ZVDBServer).Query(ctx, req.(*queryRequest)) }
	return interceptor(ctx, in, info, handler)
}

// server wraps one Engine/DB pair; there is exactly one per process,
// unlike the teacher's server which additionally tracked peer addresses.
type server struct {
	db  *storage.DB
	eng *executor.Engine
}

// Exec runs an INSERT, UPDATE, or DELETE described by req and returns
// rows-affected. It never parses SQL text (see command.go's note in
// cmd/zvdb): callers send the already-decomposed operation.
func (s *server) Exec(ctx context.Context, req *execRequest) (*execResponse, error) {
	start := time.Now()
	n, err := s.runExec(req)
	resp := &execResponse{Duration: time.Since(start).String()}
	if err != nil {
		resp.Error = err.Error()
		return resp, nil
	}
	resp.Success = true
	resp.RowsAffected = int64(n)
	return resp, nil
}

func (s *server) runExec(req *execRequest) (int, error) {
	switch req.Op {
	case "insert":
		row, err := decodeRow(req.Row)
		if err != nil {
			return 0, err
		}
		if _, err := s.eng.Insert(nil, req.Table, row); err != nil {
			return 0, err
		}
		return 1, nil
	case "update":
		sets, err := decodeValues(req.Set)
		if err != nil {
			return 0, err
		}
		pred, err := decodePredicate(req.Where)
		if err != nil {
			return 0, err
		}
		return s.eng.Update(nil, req.Table, sets, pred)
	case "delete":
		pred, err := decodePredicate(req.Where)
		if err != nil {
			return 0, err
		}
		return s.eng.Delete(nil, req.Table, pred)
	default:
		return 0, errUnknownOp(req.Op)
	}
}

// Query runs a SELECT described by req and returns its rows.
func (s *server) Query(ctx context.Context, req *queryRequest) (*queryResponse, error) {
	start := time.Now()
	q, err := decodeQuery(req)
	if err != nil {
		return &queryResponse{Error: err.Error(), Duration: time.Since(start).String()}, nil
	}
	rows, err := s.eng.Select(nil, q)
	if err != nil {
		return &queryResponse{Error: err.Error(), Duration: time.Since(start).String()}, nil
	}
	out := make([]map[string]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToJSON(r))
	}
	return &queryResponse{Rows: out, Count: len(out), Duration: time.Since(start).String()}, nil
}

// handleStatus is a minimal HTTP liveness/introspection endpoint,
// mirroring the teacher's /api/status handler without the peers field
// (there are none).
func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ok":          true,
		"time":        time.Now().Format(time.RFC3339),
		"instance_id": s.db.InstanceID.String(),
		"tables":      s.db.TableNames(),
	})
}

func main() {
	flag.Parse()

	var opts []storage.Option
	if *flagConfig != "" {
		cfg, err := config.Load(*flagConfig)
		if err != nil {
			log.Fatalf("config error: %v", err)
		}
		if cfg.DataDir != "" {
			*flagData = cfg.DataDir
		}
		opts = cfg.Options()
	}

	db, err := storage.OpenDB(*flagData, opts...)
	if err != nil {
		log.Fatalf("open error: %v", err)
	}
	defer db.Close()

	srv := &server{db: db, eng: executor.New(db)}

	encoding.RegisterCodec(jsonCodec{})

	if *flagGRPC != "" {
		go func() {
			lis, err := net.Listen("tcp", *flagGRPC)
			if err != nil {
				log.Fatalf("grpc listen error: %v", err)
			}
			gs := grpc.NewServer()
			registerZVDBServer(gs, srv)
			log.Printf("gRPC listening on %s", *flagGRPC)
			if err := gs.Serve(lis); err != nil {
				log.Printf("grpc serve error: %v", err)
			}
		}()
	}

	if *flagHTTP != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/status", srv.handleStatus)
		log.Printf("HTTP listening on %s", *flagHTTP)
		if err := http.ListenAndServe(*flagHTTP, mux); err != nil {
			log.Fatalf("http serve error: %v", err)
		}
	} else {
		select {}
	}
}
