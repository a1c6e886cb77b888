// Command sapio is the contract CLI: create/bind/list/info plus node and
// emulator helpers. Exit code 0 on success, 1 on a compile/bind failure,
// 2 on an I/O or parse failure. A thin wrapper over the compiler and
// binder; no contract logic lives here.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"net"
	"os"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/urfave/cli"

	"github.com/sapio-lang/sapio/binder"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/contract"
	"github.com/sapio-lang/sapio/effects"
	"github.com/sapio-lang/sapio/emulator"
	"github.com/sapio-lang/sapio/modules"
	"github.com/sapio-lang/sapio/rpcclient"
)

const (
	exitOK        = 0
	exitCompile   = 1
	exitIOOrParse = 2
)

func main() {
	app := cli.NewApp()
	app.Name = "sapio"
	app.Usage = "compile and bind covenant-restricted Bitcoin contracts"
	app.Commands = []cli.Command{
		listCommand,
		infoCommand,
		createCommand,
		bindCommand,
		broadcastCommand,
		chainInfoCommand,
		emulatorServerCommand,
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitIOOrParse)
	}
}

var listCommand = cli.Command{
	Name:  "list",
	Usage: "list every built-in contract module",
	Action: func(c *cli.Context) error {
		for _, name := range modules.List() {
			fmt.Println(name)
		}
		return nil
	},
}

var infoCommand = cli.Command{
	Name:      "info",
	Usage:     "check that a built-in contract module exists",
	ArgsUsage: "<module>",
	Action: func(c *cli.Context) error {
		name := c.Args().First()
		if name == "" {
			return cli.NewExitError("info: a module name is required", exitIOOrParse)
		}
		found := false
		for _, known := range modules.List() {
			if known == name {
				found = true
				break
			}
		}
		if !found {
			return cli.NewExitError(fmt.Sprintf("info: unknown module %q", name), exitCompile)
		}
		fmt.Printf("%s: built-in module; pass its constructor parameters to `sapio create` as --params JSON\n", name)
		return nil
	},
}

var createCommand = cli.Command{
	Name:      "create",
	Usage:     "compile a contract module to a CompiledObject",
	ArgsUsage: "<module>",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "file", Usage: "read a create request JSON from this file instead of flags"},
		cli.StringFlag{Name: "params", Usage: "JSON constructor parameters for <module>"},
		cli.Int64Flag{Name: "funds", Usage: "amount funded to the contract, in satoshis"},
		cli.StringFlag{Name: "network", Value: "main", Usage: "main|test|signet|regtest"},
		cli.StringFlag{Name: "effects", Usage: "JSON file of effect arguments, keyed by path string"},
	},
	Action: func(c *cli.Context) error {
		req, err := resolveCreateRequest(c)
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}

		net, err := modules.NetworkParams(req.Network)
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}
		compilable, err := modules.Create(*req)
		if err != nil {
			return printErrAndExit(err, exitCompile)
		}

		ctx := contract.NewContext(btcutil.Amount(req.Funds), net, emulator.Identity{})
		if req.Effects != nil {
			ctx = ctx.WithEffects(effects.NewMapDB(req.Effects))
		}
		obj, err := compilable.Compile(ctx)
		if err != nil {
			return printErrAndExit(err, exitCompile)
		}
		return printResult(obj)
	},
}

// resolveCreateRequest builds a modules.CreateRequest either from --file
// (a full JSON-encoded request, for scripting) or from the --params/
// --funds/--network flags plus the positional module name. --effects
// loads an effect-argument file into the request either way.
func resolveCreateRequest(c *cli.Context) (*modules.CreateRequest, error) {
	var req *modules.CreateRequest
	if file := c.String("file"); file != "" {
		raw, err := ioutil.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("create --file: %w", err)
		}
		req = &modules.CreateRequest{}
		if err := json.Unmarshal(raw, req); err != nil {
			return nil, fmt.Errorf("create --file: %w", err)
		}
	} else {
		name := c.Args().First()
		if name == "" {
			return nil, fmt.Errorf("create: a module name (or --file) is required")
		}
		req = &modules.CreateRequest{
			Contract: name,
			Funds:    c.Int64("funds"),
			Network:  c.String("network"),
			Params:   json.RawMessage(c.String("params")),
		}
	}

	if effectsFile := c.String("effects"); effectsFile != "" {
		raw, err := ioutil.ReadFile(effectsFile)
		if err != nil {
			return nil, fmt.Errorf("create --effects: %w", err)
		}
		if err := json.Unmarshal(raw, &req.Effects); err != nil {
			return nil, fmt.Errorf("create --effects: %w", err)
		}
	}
	return req, nil
}

var bindCommand = cli.Command{
	Name:  "bind",
	Usage: "bind a CompiledObject to a funding outpoint, producing a signable Program",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "file", Usage: "read the CompiledObject JSON from this file"},
		cli.StringFlag{Name: "outpoint", Usage: "txid:vout funding the contract"},
		cli.BoolFlag{Name: "mock", Usage: "bind against an all-zero mock outpoint, for dry runs"},
	},
	Action: func(c *cli.Context) error {
		if c.String("file") == "" {
			return cli.NewExitError("bind --file is required", exitIOOrParse)
		}
		raw, err := ioutil.ReadFile(c.String("file"))
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}
		var obj compiled.Object
		if err := json.Unmarshal(raw, &obj); err != nil {
			return cli.NewExitError(fmt.Sprintf("bind: decode compiled object: %v", err), exitIOOrParse)
		}

		seed, err := resolveSeed(c)
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}

		program, err := binder.Bind(&obj, *seed, nil, binder.NewMapTxIndex(), emulator.Identity{})
		if err != nil {
			return printErrAndExit(err, exitCompile)
		}
		return printResult(program)
	},
}

// rpcFlags are the Bitcoin Core JSON-RPC connection flags shared by any
// command that talks to a node.
var rpcFlags = []cli.Flag{
	cli.StringFlag{Name: "rpc-url", Usage: "Bitcoin Core JSON-RPC endpoint, e.g. http://127.0.0.1:8332"},
	cli.StringFlag{Name: "rpc-user", Usage: "Bitcoin Core JSON-RPC username"},
	cli.StringFlag{Name: "rpc-password", Usage: "Bitcoin Core JSON-RPC password"},
}

func rpcClientFrom(c *cli.Context) (*rpcclient.Client, error) {
	return rpcclient.New(c.String("rpc-url"), c.String("rpc-user"), c.String("rpc-password"))
}

var broadcastCommand = cli.Command{
	Name:      "broadcast",
	Usage:     "submit a finalized, hex-encoded raw transaction to a Bitcoin Core node",
	ArgsUsage: "<tx-hex>",
	Flags:     rpcFlags,
	Action: func(c *cli.Context) error {
		txHex := c.Args().First()
		if txHex == "" {
			return cli.NewExitError("broadcast: a raw transaction hex string is required", exitIOOrParse)
		}
		client, err := rpcClientFrom(c)
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}
		txid, err := client.Broadcast(context.Background(), txHex)
		if err != nil {
			return printErrAndExit(err, exitCompile)
		}
		return printResult(map[string]string{"txid": txid})
	},
}

var chainInfoCommand = cli.Command{
	Name:  "chain-info",
	Usage: "print the node's current block height and a conservative fee estimate",
	Flags: append(rpcFlags, cli.IntFlag{Name: "conf-target", Value: 6, Usage: "blocks to target for the fee estimate"}),
	Action: func(c *cli.Context) error {
		client, err := rpcClientFrom(c)
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}
		ctx := context.Background()
		height, err := client.BlockHeight(ctx)
		if err != nil {
			return printErrAndExit(err, exitCompile)
		}
		feerate, err := client.EstimateFeeRate(ctx, c.Int("conf-target"))
		if err != nil {
			return printErrAndExit(err, exitCompile)
		}
		return printResult(map[string]int64{
			"block_height":           int64(height),
			"feerate_sats_per_vbyte": feerate,
		})
	},
}

var emulatorServerCommand = cli.Command{
	Name:  "emulator-server",
	Usage: "serve CTV emulator key-derivation and signing requests over TCP",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "listen", Value: "127.0.0.1:8367", Usage: "address to listen on"},
		cli.StringFlag{Name: "seed", Usage: "hex-encoded BIP-32 master seed"},
		cli.StringFlag{Name: "network", Value: "main", Usage: "main|test|signet|regtest"},
	},
	Action: func(c *cli.Context) error {
		seed, err := hex.DecodeString(c.String("seed"))
		if err != nil || len(seed) < hdkeychain.MinSeedBytes {
			return cli.NewExitError("emulator-server: --seed must be a hex seed of at least 16 bytes", exitIOOrParse)
		}
		netParams, err := modules.NetworkParams(c.String("network"))
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}
		master, err := hdkeychain.NewMaster(seed, netParams)
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}
		server := emulator.NewHDEmulatorServer(emulator.NewHDEmulator(master, netParams))

		ln, err := net.Listen("tcp", c.String("listen"))
		if err != nil {
			return cli.NewExitError(err.Error(), exitIOOrParse)
		}
		defer ln.Close()
		log.Printf("sapio emulator-server: listening on %s", ln.Addr())
		for {
			conn, err := ln.Accept()
			if err != nil {
				return cli.NewExitError(err.Error(), exitCompile)
			}
			go func() {
				defer conn.Close()
				if err := server.Serve(conn); err != nil {
					log.Printf("sapio emulator-server: connection error: %v", err)
				}
			}()
		}
	},
}

func resolveSeed(c *cli.Context) (*wire.OutPoint, error) {
	if c.Bool("mock") {
		return &wire.OutPoint{Hash: chainhash.Hash{}, Index: 0}, nil
	}
	outpoint := c.String("outpoint")
	if outpoint == "" {
		return nil, fmt.Errorf("bind: one of --outpoint or --mock is required")
	}
	idx := bytes.LastIndexByte([]byte(outpoint), ':')
	if idx < 0 {
		return nil, fmt.Errorf("bind: --outpoint must be txid:vout")
	}
	txid, err := chainhash.NewHashFromStr(outpoint[:idx])
	if err != nil {
		return nil, fmt.Errorf("bind: invalid txid: %w", err)
	}
	var vout uint32
	if _, err := fmt.Sscanf(outpoint[idx+1:], "%d", &vout); err != nil {
		return nil, fmt.Errorf("bind: invalid vout: %w", err)
	}
	return &wire.OutPoint{Hash: *txid, Index: vout}, nil
}

func printResult(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printErrAndExit reports err as the §7 { "result": { "Err": ... } }
// envelope on stdout (so scripts parse one JSON shape regardless of
// success or failure) and exits with code.
func printErrAndExit(err error, code int) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(map[string]interface{}{"result": map[string]interface{}{"Err": err.Error()}})
	return cli.NewExitError("", code)
}
