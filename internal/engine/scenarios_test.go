// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package engine_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention

	"github.com/holomush/playfieldguard/internal/access"
	"github.com/holomush/playfieldguard/internal/core"
	"github.com/holomush/playfieldguard/internal/engine"
	"github.com/holomush/playfieldguard/internal/engine/enginetest"
)

var _ = Describe("Reconciliation", func() {
	const (
		homeWorld = "A"
		outpost   = "B"
		haven     = "Haven"
	)

	var (
		ctx    context.Context
		host   *enginetest.Host
		perms  *access.PermissionTable
		eng    *engine.Engine
		events *core.Broadcaster
	)

	trespasser := func(id core.EntityID, playfield string) core.Snapshot {
		return core.Snapshot{
			EntityID:  id,
			AccountID: "76561198000000042",
			Name:      "Scout",
			Playfield: playfield,
			FactionID: 3,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		host = enginetest.NewHost()
		perms = access.NewPermissionTable(map[int64]int{76561198000000042: 0})
		events = core.NewBroadcaster(64)

		var err error
		eng, err = engine.New(host, perms, engine.Settings{
			Policy:            access.NewPolicy(map[string]int{homeWorld: 7}, 100),
			FallbackPlayfield: haven,
			BootMessage:       "Restricted playfield",
			TeleportOffset:    300,
			HistoryCapacity:   10,
			EventTimeout:      2 * time.Second,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		eng.Stop()
	})

	Describe("choosing a rollback destination", func() {
		It("returns a foreign player to the first earlier playfield that is not restricted", func() {
			h := eng.Roster().History(1)
			h.Push(homeWorld)
			h.Push(outpost)
			h.Push(homeWorld)
			host.SetPlayer(trespasser(1, homeWorld))

			Expect(eng.HandlePlayfieldChanged(ctx, 1, homeWorld)).To(Succeed())

			Expect(host.TeleportsFor(1)).To(HaveLen(1))
			Expect(host.TeleportsFor(1)[0].Playfield).To(Equal(outpost))
		})

		It("uses the fallback playfield when the player has no history", func() {
			host.SetPlayer(trespasser(1, homeWorld))

			Expect(eng.HandlePlayfieldChanged(ctx, 1, homeWorld)).To(Succeed())

			Expect(host.TeleportsFor(1)).To(HaveLen(1))
			Expect(host.TeleportsFor(1)[0].Playfield).To(Equal(haven))
		})

		It("teleports to a fixed offset with zero rotation", func() {
			host.SetPlayer(trespasser(1, homeWorld))

			Expect(eng.HandlePlayfieldChanged(ctx, 1, homeWorld)).To(Succeed())

			tp := host.TeleportsFor(1)[0]
			Expect(tp.Position).To(Equal(core.Vector3{X: 300, Y: 300, Z: 300}))
			Expect(tp.Rotation).To(BeZero())
		})
	})

	Describe("player lifecycle", func() {
		It("starts a fresh history after a reconnect", func() {
			host.SetPlayer(trespasser(1, outpost))
			Expect(eng.HandleConnected(ctx, 1)).To(Succeed())
			host.Move(1, "C")
			Expect(eng.HandlePlayfieldChanged(ctx, 1, "C")).To(Succeed())

			Expect(eng.HandleDisconnected(ctx, 1)).To(Succeed())
			_, tracked := eng.Roster().LookupHistory(1)
			Expect(tracked).To(BeFalse())

			Expect(eng.HandleConnected(ctx, 1)).To(Succeed())
			h, tracked := eng.Roster().LookupHistory(1)
			Expect(tracked).To(BeTrue())
			Expect(h.Len()).To(Equal(1))
			Expect(eng.RollbackTarget(1, "C")).To(Equal(haven))
		})

		It("tracks a player first seen through a playfield change", func() {
			host.SetPlayer(trespasser(2, outpost))

			Expect(eng.HandlePlayfieldChanged(ctx, 2, outpost)).To(Succeed())

			Expect(eng.Tracked()).To(Equal(1))
			Expect(host.TeleportsFor(2)).To(BeEmpty())
		})
	})

	Describe("external failures", func() {
		It("still teleports when the warning cannot be delivered", func() {
			host.SetPlayer(trespasser(1, homeWorld))
			host.FailMessages(errors.New("player busy"))

			Expect(eng.HandlePlayfieldChanged(ctx, 1, homeWorld)).To(Succeed())
			Expect(host.TeleportsFor(1)).To(HaveLen(1))
		})

		It("does not retry a failed teleport", func() {
			host.SetPlayer(trespasser(1, homeWorld))
			host.FailTeleports(errors.New("host rejected"))

			err := eng.HandlePlayfieldChanged(ctx, 1, homeWorld)
			Expect(err).To(MatchError(ContainSubstring("host rejected")))
			Expect(host.Teleports()).To(BeEmpty())
		})
	})

	Describe("permission table", func() {
		It("exempts players at or above the immunity threshold", func() {
			perms.Replace(map[int64]int{76561198000000042: 100})
			host.SetPlayer(trespasser(1, homeWorld))

			Expect(eng.HandlePlayfieldChanged(ctx, 1, homeWorld)).To(Succeed())
			Expect(host.Teleports()).To(BeEmpty())
		})

		It("does not exempt accounts missing from the table", func() {
			perms.Replace(nil)
			host.SetPlayer(trespasser(1, homeWorld))

			Expect(eng.HandlePlayfieldChanged(ctx, 1, homeWorld)).To(Succeed())
			Expect(host.Teleports()).To(HaveLen(1))
		})
	})

	Describe("concurrent events", func() {
		BeforeEach(func() {
			Expect(eng.Start(ctx, events)).To(Succeed())
		})

		It("does not block one player on another player's host calls", func() {
			host.SetPlayer(trespasser(1, homeWorld))
			host.SetPlayer(trespasser(2, homeWorld))
			release := host.Block(1)
			DeferCleanup(release)

			events.Publish(core.NewEvent(core.EventPlayerChangedPlayfield, 1, homeWorld))
			events.Publish(core.NewEvent(core.EventPlayerChangedPlayfield, 2, homeWorld))

			Eventually(func() []core.Teleport { return host.TeleportsFor(2) }).
				WithTimeout(time.Second).Should(HaveLen(1))
			Expect(host.TeleportsFor(1)).To(BeEmpty())

			release()
			Eventually(func() []core.Teleport { return host.TeleportsFor(1) }).
				WithTimeout(time.Second).Should(HaveLen(1))
		})

		It("ignores events after the engine stops", func() {
			eng.Stop()
			host.SetPlayer(trespasser(1, homeWorld))

			events.Publish(core.NewEvent(core.EventPlayerChangedPlayfield, 1, homeWorld))

			Consistently(host.Fetched).WithTimeout(50 * time.Millisecond).Should(BeEmpty())
			Expect(eng.Running()).To(BeFalse())
		})
	})
})
