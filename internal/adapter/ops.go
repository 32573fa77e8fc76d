package adapter

import "github.com/roach88/strata/internal/driver"

// ops holds the driver's capabilities as typed handles. They are resolved
// once from the probed capability set; a nil handle is an absent
// capability.
type ops struct {
	initializer      driver.Initializer
	teardowner       driver.Teardowner
	definer          driver.Definer
	describer        driver.Describer
	dropper          driver.Dropper
	alterer          driver.Alterer
	creator          driver.Creator
	finder           driver.Finder
	updater          driver.Updater
	destroyer        driver.Destroyer
	findOrCreator    driver.FindOrCreator
	findAndUpdater   driver.FindAndUpdater
	findAndDestroyer driver.FindAndDestroyer
	locker           driver.Locker
	statuser         driver.Statuser
	autoIncrementer  driver.AutoIncrementer
	joiner           driver.Joiner
}

func resolveOps(d driver.Driver, caps driver.Capabilities) ops {
	var o ops
	if caps.Has(driver.CapInitialize) {
		o.initializer = d.(driver.Initializer)
	}
	if caps.Has(driver.CapTeardown) {
		o.teardowner = d.(driver.Teardowner)
	}
	if caps.Has(driver.CapDefine) {
		o.definer = d.(driver.Definer)
	}
	if caps.Has(driver.CapDescribe) {
		o.describer = d.(driver.Describer)
	}
	if caps.Has(driver.CapDrop) {
		o.dropper = d.(driver.Dropper)
	}
	if caps.Has(driver.CapAlter) {
		o.alterer = d.(driver.Alterer)
	}
	if caps.Has(driver.CapCreate) {
		o.creator = d.(driver.Creator)
	}
	if caps.Has(driver.CapFind) {
		o.finder = d.(driver.Finder)
	}
	if caps.Has(driver.CapUpdate) {
		o.updater = d.(driver.Updater)
	}
	if caps.Has(driver.CapDestroy) {
		o.destroyer = d.(driver.Destroyer)
	}
	if caps.Has(driver.CapFindOrCreate) {
		o.findOrCreator = d.(driver.FindOrCreator)
	}
	if caps.Has(driver.CapFindAndUpdate) {
		o.findAndUpdater = d.(driver.FindAndUpdater)
	}
	if caps.Has(driver.CapFindAndDestroy) {
		o.findAndDestroyer = d.(driver.FindAndDestroyer)
	}
	if caps.Has(driver.CapLock) {
		o.locker = d.(driver.Locker)
	}
	if caps.Has(driver.CapStatus) {
		o.statuser = d.(driver.Statuser)
	}
	if caps.Has(driver.CapAutoIncrement) {
		o.autoIncrementer = d.(driver.AutoIncrementer)
	}
	if caps.Has(driver.CapJoin) {
		o.joiner = d.(driver.Joiner)
	}
	return o
}
