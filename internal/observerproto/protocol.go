package observerproto

import "encoding/json"

// Version is the observer protocol version.
const Version = "1"

// Message types.
const (
	TypeSubscribe   = "SUBSCRIBE"
	TypeTick        = "TICK"
	TypeChunk       = "CHUNK"
	TypeChunkUnload = "CHUNK_UNLOAD"
)

// BaseMessage lets the server route client JSON by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}

// Client -> Server. First message on the observer WS connection; may be
// re-sent to move the observer or change its radius.
type SubscribeMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Position        [3]float32 `json:"position"`
	ChunkRadius     int        `json:"chunk_radius"`
	MaxChunks       int        `json:"max_chunks,omitempty"`
}

// HTTP response for GET /v1/observer/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string      `json:"protocol_version"`
	Step            uint64      `json:"step"`
	WorldParams     WorldParams `json:"world_params"`
	VoxelPalette    []string    `json:"voxel_palette"`
	VoxelDigest     string      `json:"voxel_digest"`
	Voxels          []VoxelDef  `json:"voxels"`
}

type WorldParams struct {
	TickRateHz         int     `json:"tick_rate_hz"`
	ChunkSize          int     `json:"chunk_size"`
	VoxelSize          float32 `json:"voxel_size"`
	Seed               int64   `json:"seed"`
	Strategy           string  `json:"strategy"`
	RenderDistance     int     `json:"render_distance"`
	SimulationDistance int     `json:"simulation_distance"`
}

type VoxelDef struct {
	ID          uint16  `json:"id"`
	Name        string  `json:"name"`
	Physics     string  `json:"physics"`
	Transparent bool    `json:"transparent"`
	Mass        float32 `json:"mass"`
}

// Server -> Client. Sent once per main step.
type TickMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Step            uint64     `json:"step"`
	Strategy        string     `json:"strategy"`
	Reference       [3]float32 `json:"reference"`
	DurationUs      int64      `json:"duration_us"`

	Loaded          int `json:"loaded"`
	Awake           int `json:"awake"`
	Ticked          int `json:"ticked"`
	Dispatched      int `json:"dispatched"`
	Moves           int `json:"moves"`
	CrossChunkMoves int `json:"cross_chunk_moves"`
	Generated       int `json:"generated"`
}

// Server -> Client. Full voxel ids of one chunk, x fastest then y then z,
// encoded as Encoding names.
type ChunkMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Step            uint64 `json:"step"`
	Key             [3]int `json:"key"`
	Size            int    `json:"size"`
	Encoding        string `json:"encoding"`
	Data            string `json:"data"`
	Digest          string `json:"digest"`
}

// Server -> Client. The chunk left the observer's radius or was unloaded.
type ChunkUnloadMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Key             [3]int `json:"key"`
}
