// Package wire defines the duplex object-message protocol shared by the
// Master's RPC transport and the Worker's RPC client: envelope framing,
// the sealed set of remote methods, and the RSA key-file encoding used by
// the Master<->Node/Worker pairing handshake.
package wire

import "encoding/json"

// Method enumerates every remote call that may cross an RPC connection.
// The source treats any unknown attribute on a remote handle as a method
// call; here the set is sealed so a typed dispatcher can switch on it.
type Method string

const (
	MethodAuthChallenge        Method = "auth_challenge"
	MethodAuthResponse         Method = "auth_response"
	MethodExchangeKeys         Method = "exchange_keys"
	MethodGetKey               Method = "get_key"
	MethodRunTask              Method = "run_task"
	MethodStopTask             Method = "stop_task"
	MethodTaskStatus           Method = "task_status"
	MethodWorkerStatus         Method = "worker_status"
	MethodReceiveResults       Method = "receive_results"
	MethodReleaseWorker        Method = "release_worker"
	MethodSendResults          Method = "send_results"
	MethodRequestWorker        Method = "request_worker"
	MethodRequestWorkerRelease Method = "request_worker_release"
	MethodWorkerStopped        Method = "worker_stopped"
	MethodKillWorker           Method = "kill_worker"
)

// Envelope is one frame of the duplex object-message protocol. Every call
// carries a CallID so the peer's reply (or error) can be correlated back
// to the pending future that issued it.
type Envelope struct {
	CallID int             `json:"call_id"`
	Method Method          `json:"method,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	// Reply is false for a call frame, true for a result/error frame.
	Reply bool `json:"reply"`
}

// WorkerStatusKind is the reply to a worker_status call (§4.5).
type WorkerStatusKind string

const (
	WorkerIdle     WorkerStatusKind = "IDLE"
	WorkerWorking  WorkerStatusKind = "WORKING"
	WorkerFinished WorkerStatusKind = "FINISHED"
)

// WorkerStatusReply is the payload returned by worker_status.
type WorkerStatusReply struct {
	Kind        WorkerStatusKind `json:"kind"`
	TaskKey     string           `json:"task_key,omitempty"`
	WorkunitKey string           `json:"workunit_key,omitempty"`
	Results     []ResultEntry    `json:"results,omitempty"`
}

// ResultEntry is one (workunit_key, payload, failed) triple, as emitted in
// a batched send_results call (§4.4).
type ResultEntry struct {
	WorkunitKey string          `json:"workunit_key,omitempty"`
	Payload     json.RawMessage `json:"payload"`
	Failed      bool            `json:"failed"`
}

// RunTaskArgs is the payload of a run_task call issued by the Scheduler.
type RunTaskArgs struct {
	TaskKey        string          `json:"task_key"`
	PackageVersion string          `json:"package_version"`
	Args           json.RawMessage `json:"args"`
	SubtaskKey     string          `json:"subtask_key,omitempty"`
	WorkunitKey    string          `json:"workunit_key,omitempty"`
	MainWorkerID   string          `json:"main_worker_id"`
	TaskInstanceID int64           `json:"task_instance_id"`
}

// RequestWorkerArgs is the payload a worker sends back to request a
// subtask worker (§4.2 request_worker).
type RequestWorkerArgs struct {
	SubtaskKey  string          `json:"subtask_key"`
	Args        json.RawMessage `json:"args"`
	WorkunitKey string          `json:"workunit_key"`
}

// SendResultsArgs is the payload of send_results (§4.4).
type SendResultsArgs struct {
	Results     []ResultEntry `json:"results"`
	WorkunitKey string        `json:"workunit_key,omitempty"`
	Failed      bool          `json:"failed"`
}

// ReceiveResultsArgs is what the Scheduler forwards to a main worker.
type ReceiveResultsArgs struct {
	Results     []ResultEntry `json:"results"`
	SubtaskKey  string        `json:"subtask_key"`
	WorkunitKey string        `json:"workunit_key"`
}

// KeyFile is the JSON-encoded RSA key material persisted to disk (§6 Key
// files). Public-only files carry 2 elements ([n, e]); full keypair files
// carry 5 ([n, e, d, q, p]). Values are decimal strings because the big
// integers involved routinely exceed what a JSON number can carry safely.
type KeyFile []string

// IsPublicOnly reports whether this key file holds only the public half.
func (k KeyFile) IsPublicOnly() bool { return len(k) == 2 }

// IsKeyPair reports whether this key file holds a full private key.
func (k KeyFile) IsKeyPair() bool { return len(k) == 5 }

// ChunkSize is the maximum number of bytes of a JSON-encoded public key
// carried per chunk during exchange_keys / get_key. Integers (and the
// JSON arrays encoding them) larger than this must be split across
// multiple RPC messages and reassembled by the receiver (§6).
const ChunkSize = 100

// ChunkString splits s into ChunkSize-byte pieces, preserving order so the
// receiver can reassemble by concatenation.
func ChunkString(s string) []string {
	if s == "" {
		return []string{}
	}
	chunks := make([]string, 0, (len(s)/ChunkSize)+1)
	for i := 0; i < len(s); i += ChunkSize {
		end := i + ChunkSize
		if end > len(s) {
			end = len(s)
		}
		chunks = append(chunks, s[i:end])
	}
	return chunks
}

// JoinChunks reassembles chunks produced by ChunkString (or an encrypted
// per-chunk variant applied by the caller before transmission).
func JoinChunks(chunks []string) string {
	out := ""
	for _, c := range chunks {
		out += c
	}
	return out
}
