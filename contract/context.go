// Package contract defines the contract ABI: the function-table shape a
// contract author implements (then-, finish- and continuation-functions),
// the Context threaded through compilation, and the generic Compilable
// hook the template builder uses to recursively compile sub-contracts
// without depending on the compiler package itself.
package contract

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/sapio-lang/sapio/clause"
	"github.com/sapio-lang/sapio/compiled"
	"github.com/sapio-lang/sapio/effects"
)

// Emulator supplies either a real BIP-119 CTV clause or a signer-
// substituted key clause, and signs PSBTs at bind time. Concrete
// implementations live in package emulator; this interface exists here,
// at the point of use, so Context has no dependency on that package.
type Emulator interface {
	GetSignerFor(hash [32]byte) (clause.Clause, error)
	Sign(p *psbt.Packet) error
}

// Compilable is anything that can turn itself into a compiled.Object given
// a Context. A bare public key compiles trivially (see BareKey); any
// richer contract compiles via the shared algorithm in package compiler,
// reached only through this interface so template.Builder never needs to
// import compiler.
type Compilable interface {
	Compile(ctx *Context) (*compiled.Object, error)
}

// Context carries everything the compiler (and the functions a contract
// registers) need to produce templates: how much money is available,
// which network is being targeted, how to resolve CTV commitments, and
// where in the compilation tree this call is happening.
type Context struct {
	funds    btcutil.Amount
	network  *chaincfg.Params
	emulator Emulator
	path     effects.EffectPath
	db       effects.DB
}

// NewContext starts a fresh top-level compilation context at the root
// path with an empty effect database.
func NewContext(funds btcutil.Amount, network *chaincfg.Params, emulator Emulator) *Context {
	return &Context{
		funds:    funds,
		network:  network,
		emulator: emulator,
		path:     effects.RootPath(),
		db:       effects.Empty,
	}
}

// WithEffects attaches an effect database to an otherwise-built context.
func (c *Context) WithEffects(db effects.DB) *Context {
	cp := *c
	cp.db = db
	return &cp
}

func (c *Context) Funds() btcutil.Amount   { return c.funds }
func (c *Context) Network() *chaincfg.Params { return c.network }
func (c *Context) EmulatorHandle() Emulator  { return c.emulator }
func (c *Context) Path() effects.EffectPath  { return c.path }
func (c *Context) Effects() effects.DB       { return c.db }

// Derive returns a child context at path.Push(fragment), carrying the same
// funds, network, emulator and effect database. A given fragment must not
// be derived twice from the same parent scope; callers
// (principally the compiler) are responsible for that discipline, which
// the Branch(i) counters and Named(fn) derivation order already provide.
func (c *Context) Derive(fragment effects.PathFragment) *Context {
	cp := *c
	cp.path = c.path.Push(fragment)
	return &cp
}

// WithAmount returns a new context carrying exactly amount, failing
// OutOfFunds if the parent does not have that much available. This is
// what a then/finish-or function body uses to fund one output's
// sub-compilation.
func (c *Context) WithAmount(amount btcutil.Amount) (*Context, error) {
	if amount > c.funds {
		return nil, &Error{Kind: OutOfFunds}
	}
	cp := *c
	cp.funds = amount
	return &cp, nil
}

// SpendAmount debits amount from the context's available funds in place,
// failing OutOfFunds if insufficient.
func (c *Context) SpendAmount(amount btcutil.Amount) error {
	if amount > c.funds {
		return &Error{Kind: OutOfFunds}
	}
	c.funds -= amount
	return nil
}

// AddAmount grows available funds, modelling an externally contributed
// input.
func (c *Context) AddAmount(amount btcutil.Amount) {
	c.funds += amount
}

// CTVEmulator resolves the clause that should guard a CTV-enforced branch
// whose transaction template hashes to hash: ordinarily the identity
// CheckTemplateVerify(hash) clause, or a federated signer's substitute.
func (c *Context) CTVEmulator(hash [32]byte) (clause.Clause, error) {
	if c.emulator == nil {
		return clause.CheckTemplateVerify(hash), nil
	}
	return c.emulator.GetSignerFor(hash)
}

// Compile is a convenience that simply forwards to a's own Compile method.
func (c *Context) Compile(a Compilable) (*compiled.Object, error) {
	return a.Compile(c)
}
