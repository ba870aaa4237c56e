package groups

import (
	"fmt"
	"testing"

	"somnia.ai/internal/sim/directory"
	"somnia.ai/internal/sim/qualify"
	"somnia.ai/internal/sim/session"
)

type fixture struct {
	dir    *directory.Memory
	oracle *qualify.Oracle
	sess   *session.Registry
	reg    *Registry
	former *Former

	formed    []Group
	dissolved map[ID]Reason
}

func newFixture(t *testing.T, rules Rules) *fixture {
	t.Helper()
	f := &fixture{dir: directory.NewMemory(), dissolved: map[ID]Reason{}}
	f.oracle = qualify.New(f.dir, 0)
	f.sess = session.NewRegistry(session.Tables{}, session.Options{})
	f.reg = NewRegistry(f.sess, Options{
		OnFormed:    func(g Group) { f.formed = append(f.formed, g) },
		OnDissolved: func(g Group, why Reason) { f.dissolved[g.ID] = why },
	})
	f.former = NewFormer(f.reg, f.dir, f.oracle, rules)
	return f
}

func allRules() Rules {
	return Rules{Rituals: true, Entanglements: true, Portals: true, PortalTTL: 100}
}

func (f *fixture) sleeper(id directory.ActorID, env directory.EnvID) {
	f.dir.Join(id, string(id), env)
	f.dir.SetSleeping(id, true)
}

func TestTier(t *testing.T) {
	cases := map[int]string{2: "A", 3: "B", 4: "C", 5: "D", 6: "E", 11: "E"}
	for q, want := range cases {
		if got := Tier(q); got != want {
			t.Fatalf("tier(%d): got %s want %s", q, got, want)
		}
	}
}

func TestPoll_RitualThreshold(t *testing.T) {
	f := newFixture(t, Rules{Rituals: true})
	env := directory.EnvID("overworld")
	f.dir.DefineEnv(env, "overworld")
	ids := []directory.ActorID{"a", "b", "c"}
	for _, id := range ids {
		f.dir.Join(id, string(id), env)
	}
	setQualifying := func(n int) {
		for i, id := range ids {
			f.dir.SetSleeping(id, i < n)
		}
	}

	steps := []struct {
		q      int
		exists bool
	}{{1, false}, {2, true}, {3, true}, {1, false}}
	for i, s := range steps {
		setQualifying(s.q)
		f.former.Poll(uint64(i * 100))
		g, ok := f.reg.ByKey(RitualKey(env))
		if ok != s.exists {
			t.Fatalf("poll %d (q=%d): ritual exists=%v want %v", i, s.q, ok, s.exists)
		}
		if ok && g.Variant != "A" {
			t.Fatalf("poll %d: tier got %s want A (fixed at creation)", i, g.Variant)
		}
		if ok && len(g.Members) != s.q {
			t.Fatalf("poll %d: members got %d want %d", i, len(g.Members), s.q)
		}
	}
	if len(f.formed) != 1 {
		t.Fatalf("formed: got %d want 1", len(f.formed))
	}
	if why := f.dissolved[f.formed[0].ID]; why != ReasonCondition {
		t.Fatalf("dissolve reason: got %q want %q", why, ReasonCondition)
	}
	if f.sess.Len() != 0 {
		t.Fatalf("ritual session should be cancelled with its group, %d left", f.sess.Len())
	}
}

func TestPoll_RitualTierFromCreationCount(t *testing.T) {
	f := newFixture(t, Rules{Rituals: true})
	for i := 0; i < 4; i++ {
		f.sleeper(directory.ActorID(fmt.Sprintf("p%d", i)), "nether")
	}
	f.former.Poll(0)
	g, ok := f.reg.ByKey(RitualKey("nether"))
	if !ok || g.Variant != "C" {
		t.Fatalf("ritual: got %+v,%v want tier C", g, ok)
	}
	if !f.sess.IsActive(session.GroupOwner(string(g.ID)), session.KindRitual) {
		t.Fatalf("ritual group has no session")
	}
}

func TestPoll_EntanglementNeedsTwoEnvironments(t *testing.T) {
	f := newFixture(t, Rules{Entanglements: true})
	f.sleeper("a", "e1")
	f.sleeper("b", "e1")
	f.former.Poll(0)
	if f.reg.ActiveCount(session.KindEntanglement) != 0 {
		t.Fatalf("single environment formed a network")
	}

	f.sleeper("c", "e2")
	f.former.Poll(20)
	f.former.Poll(40)
	if got := f.reg.ActiveCount(session.KindEntanglement); got != 1 {
		t.Fatalf("networks: got %d want 1", got)
	}
	g, _ := f.reg.ByKey(entanglementKey)
	if len(g.Members) != 3 || !g.Has("a") || !g.Has("b") || !g.Has("c") {
		t.Fatalf("network members: got %v", g.MemberList())
	}

	// Only e2 still qualifies; the network stays while a member qualifies.
	f.dir.SetSleeping("a", false)
	f.dir.SetSleeping("b", false)
	f.former.Poll(60)
	g, ok := f.reg.ByKey(entanglementKey)
	if !ok || len(g.Members) != 1 || !g.Has("c") {
		t.Fatalf("network after e1 left: got %v,%v", g.MemberList(), ok)
	}

	f.dir.SetSleeping("c", false)
	f.former.Poll(80)
	if f.reg.ActiveCount(session.KindEntanglement) != 0 {
		t.Fatalf("network should dissolve when no member qualifies")
	}
}

func TestPoll_PortalPerKindPairWithTTL(t *testing.T) {
	f := newFixture(t, allRules())
	f.dir.DefineEnv("w1", "overworld")
	f.dir.DefineEnv("w2", "nether")
	f.dir.DefineEnv("w3", "overworld")
	f.sleeper("a", "w1")
	f.sleeper("b", "w2")
	f.sleeper("c", "w3")

	const created = 10
	f.former.Poll(created)
	key := PortalKey("overworld", "nether")
	g, ok := f.reg.ByKey(key)
	if !ok {
		t.Fatalf("portal %s not formed", key)
	}
	if f.reg.ActiveCount(session.KindPortal) != 1 {
		t.Fatalf("same-kind environments must not pair")
	}
	if len(g.Members) != 3 || len(g.EnvKinds) != 2 {
		t.Fatalf("portal: members=%v kinds=%v", g.MemberList(), g.EnvKinds)
	}

	f.reg.Expire(created + 100)
	if !f.reg.Exists(g.ID) {
		t.Fatalf("portal expired early at t+T")
	}
	f.reg.Expire(created + 101)
	if f.reg.Exists(g.ID) {
		t.Fatalf("portal still present at t+T+1")
	}
	if f.dissolved[g.ID] != ReasonExpired {
		t.Fatalf("reason: got %q want expired", f.dissolved[g.ID])
	}

	// Condition still holds, so the next poll opens a fresh portal.
	f.former.Poll(created + 120)
	g2, ok := f.reg.ByKey(key)
	if !ok || g2.CreatedTick != created+120 {
		t.Fatalf("portal did not re-form: %+v,%v", g2, ok)
	}
}

func TestPoll_PortalNotReformedOnExpiryTick(t *testing.T) {
	rules := allRules()
	rules.PortalTTL = 99
	f := newFixture(t, rules)
	f.dir.DefineEnv("w1", "overworld")
	f.dir.DefineEnv("w2", "nether")
	f.sleeper("a", "w1")
	f.sleeper("b", "w2")

	f.former.Poll(0)
	key := PortalKey("overworld", "nether")
	g, ok := f.reg.ByKey(key)
	if !ok {
		t.Fatalf("portal %s not formed", key)
	}

	// Expiry at t+T+1 lands on a poll tick; the pair still holds.
	f.reg.Expire(100)
	f.former.Poll(100)
	if _, ok := f.reg.ByKey(key); ok {
		t.Fatalf("portal present at t+T+1")
	}
	if f.reg.Exists(g.ID) || f.dissolved[g.ID] != ReasonExpired {
		t.Fatalf("old portal: exists=%v reason=%q", f.reg.Exists(g.ID), f.dissolved[g.ID])
	}

	f.reg.Expire(120)
	f.former.Poll(120)
	g2, ok := f.reg.ByKey(key)
	if !ok || g2.CreatedTick != 120 {
		t.Fatalf("portal did not re-form at the next poll: %+v,%v", g2, ok)
	}
}

func TestPortalKey_Unordered(t *testing.T) {
	if PortalKey("a", "b") != PortalKey("b", "a") {
		t.Fatalf("portal key depends on order")
	}
}

func TestCreate_Idempotent(t *testing.T) {
	f := newFixture(t, allRules())
	prop := Proposal{Kind: session.KindRitual, Variant: "A", Key: RitualKey("e1"), Members: []directory.ActorID{"a", "b"}}
	g1, created1 := f.reg.Create(prop, 0)
	g2, created2 := f.reg.Create(prop, 5)
	if !created1 || created2 {
		t.Fatalf("created flags: got %v,%v want true,false", created1, created2)
	}
	if g1.ID != g2.ID || g2.CreatedTick != 0 {
		t.Fatalf("second create changed the group: %+v", g2)
	}
	if f.reg.Len() != 1 || f.sess.Len() != 1 || len(f.formed) != 1 {
		t.Fatalf("state: groups=%d sessions=%d formed=%d", f.reg.Len(), f.sess.Len(), len(f.formed))
	}
}

func TestPrune_VacatesConditionGroups(t *testing.T) {
	f := newFixture(t, allRules())
	f.dir.DefineEnv("w1", "overworld")
	f.dir.DefineEnv("w2", "nether")
	f.sleeper("a", "w1")
	f.sleeper("b", "w1")
	f.sleeper("c", "w2")
	f.former.Poll(0)
	if f.reg.Len() != 3 {
		t.Fatalf("groups: got %d want ritual, network and portal", f.reg.Len())
	}

	f.dir.Leave("a")
	f.dir.Leave("b")
	f.dir.Leave("c")
	vacated := f.reg.Prune(f.oracle.Qualifies)
	if len(vacated) != 2 {
		t.Fatalf("vacated: got %v want ritual and network", vacated)
	}
	if f.reg.ActiveCount(session.KindPortal) != 1 {
		t.Fatalf("portal must outlive its members until TTL")
	}
	if got := f.reg.GroupsOf("a"); len(got) != 0 {
		t.Fatalf("gone actor still a member of %v", got)
	}
}

func TestDeriveID_Stable(t *testing.T) {
	a := DeriveID(session.KindPortal, PortalKey("x", "y"))
	b := DeriveID(session.KindPortal, PortalKey("y", "x"))
	if a != b || len(a) != len("portal-")+12 {
		t.Fatalf("ids: %s %s", a, b)
	}
}
