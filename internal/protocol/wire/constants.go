package wire

import "time"

// Mount tracker addressing.
const (
	// TrackerBusName is the well-known name the daemon claims.
	TrackerBusName = "io.dittovfs.Daemon"

	// TrackerObjectPath is where the mount tracker is exported.
	TrackerObjectPath = "/io/dittovfs/mounttracker"

	// TrackerInterface carries the tracker's methods and signals.
	TrackerInterface = "io.dittovfs.MountTracker"
)

// Mount tracker members.
const (
	MethodRegisterMount   = "registerMount"
	MethodUnregisterMount = "unregisterMount"
	MethodLookupMount     = "lookupMount"
	MethodListMounts      = "listMounts"

	SignalMounted   = "mounted"
	SignalUnmounted = "unmounted"
)

// Client enumerator addressing.
const (
	// EnumeratorPathPrefix is followed by a process-wide counter.
	EnumeratorPathPrefix = "/io/dittovfs/client/enumerator/"

	EnumeratorInterface = "io.dittovfs.Enumerator"

	MemberGotInfo = "GotInfo"
	MemberDone    = "Done"
)

// Backend mount objects.
const (
	MountInterface = "io.dittovfs.Mount"

	// MountPathPrefix is used for backend object paths that are not
	// configured explicitly.
	MountPathPrefix = "/io/dittovfs/mount/"

	MethodEnumerate = "Enumerate"
	MethodUnmount   = "Unmount"
)

// Error names used on the bus for domain errors.
const (
	ErrorNamePrefix            = "io.dittovfs.Error."
	ErrorNameNotMounted        = ErrorNamePrefix + "NotMounted"
	ErrorNameAlreadyRegistered = ErrorNamePrefix + "AlreadyRegistered"
	ErrorNameInvalidSpec       = ErrorNamePrefix + "InvalidSpec"
	ErrorNameNotSupported      = ErrorNamePrefix + "NotSupported"
	ErrorNameNotFound          = ErrorNamePrefix + "NotFound"
	ErrorNameNotDirectory      = ErrorNamePrefix + "NotDirectory"
	ErrorNameCancelled         = ErrorNamePrefix + "Cancelled"
	ErrorNameClosed            = ErrorNamePrefix + "Closed"
	ErrorNamePending           = ErrorNamePrefix + "Pending"
	ErrorNameUsage             = ErrorNamePrefix + "Usage"
)

const (
	// DefaultTimeout bounds a blocking enumeration and an asynchronous
	// request deadline.
	DefaultTimeout = 60 * time.Second

	// DefaultPollInterval is the read-dispatch quantum of the synchronous
	// enumerator loop.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultBatchSize is the number of entries per GotInfo message.
	DefaultBatchSize = 50
)
