package iouring

import (
	"sync"
	"unsafe"

	"github.com/ioplex/aio/cont"
)

const UserDataMagic = 0x494E4458494F5552 // "INDXIOUR" - validation magic

var userDataPool = sync.Pool{
	New: func() any {
		return &userData{}
	},
}

func userDataPoolGet() *userData {
	u := userDataPool.Get().(*userData)
	u.Reset()
	return u
}

func userDataPoolPut(p *userData) {
	p.magic = 0 // mark as invaild
	userDataPool.Put(p)
}

// userData tracks one in-flight operation. Completion used to be delivered
// over a buffered channel (notify); it is now delivered through a
// cont.Waker, so a pending Future can be resumed in-place from whatever
// goroutine is polling it instead of forcing that goroutine to block on a
// channel receive. The completion itself still arrives on the ring's own
// eventLoop goroutine — SendRes and armWaker synchronize over mu because
// those two goroutines are never the same one.
type userData struct {
	magic uint64
	sqe   IoUringSQE
	ivs   []Iovec // for readv / writev
	n     int32

	mu     sync.Mutex
	done   bool
	result int32
	waker  cont.Waker
}

func (u *userData) Reset() {
	u.magic = UserDataMagic
	// userdata points to self
	u.sqe = IoUringSQE{UserData: uint64(uintptr(unsafe.Pointer(u)))}
	u.n = 0
	u.mu.Lock()
	u.done = false
	u.result = 0
	u.waker = cont.Waker{}
	u.mu.Unlock()
}

// SetWriteOp configures the SQE for a write operation
//
//go:norace
func (u *userData) SetWriteOp(fd int32, bufs ...[]byte) {
	sqe := &u.sqe
	sqe.Opcode = IORING_OP_WRITEV
	sqe.Fd = fd
	sqe.Off = 0
	sqe.Len = 0
	u.ivs = u.ivs[:0]
	for _, buf := range bufs {
		if len(buf) > 0 {
			u.ivs = append(u.ivs, Iovec{
				Base: uintptr(unsafe.Pointer(&buf[0])),
				Len:  uint64(len(buf)),
			})
		}
	}
	if len(u.ivs) > 0 {
		sqe.Len = uint32(len(u.ivs))
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&u.ivs[0])))
	}
}

// SetReadOp configures the SQE for a read operation
//
//go:norace
func (u *userData) SetReadOp(fd int32, bufs ...[]byte) {
	sqe := &u.sqe
	sqe.Opcode = IORING_OP_READV
	sqe.Fd = fd
	sqe.Off = 0
	sqe.Len = 0
	u.ivs = u.ivs[:0]
	for _, buf := range bufs {
		if len(buf) > 0 {
			u.ivs = append(u.ivs, Iovec{
				Base: uintptr(unsafe.Pointer(&buf[0])),
				Len:  uint64(len(buf)),
			})
		}
	}
	if len(u.ivs) > 0 {
		sqe.Len = uint32(len(u.ivs))
		sqe.Addr = uint64(uintptr(unsafe.Pointer(&u.ivs[0])))
	}
}

//go:nocheckptr
func getUserData(p uint64) *userData {
	return (*userData)(unsafe.Pointer(uintptr(p)))
}

//go:norace
func (u *userData) Copy2SQE(p *IoUringSQE) {
	*p = u.sqe
}

//go:norace
func (u *userData) IsValid() bool {
	return u.magic == UserDataMagic
}

//go:norace
func (u *userData) IsWriteOp() bool {
	return u.sqe.Opcode == IORING_OP_WRITE || u.sqe.Opcode == IORING_OP_WRITEV
}

//go:norace
func (u *userData) AdvanceWrite(n int32) (int32, bool) {
	done := false
	u.n += n // BUG: max 2GB per op

	switch u.sqe.Opcode {
	case IORING_OP_WRITE:
		u.sqe.Addr += uint64(n)
		u.sqe.Len -= uint32(n)
		done = u.sqe.Len == 0

	case IORING_OP_WRITEV:
		wn := uint64(n)
		ivs := u.ivs[:0]
		for i, iv := range u.ivs {
			if iv.Len <= wn {
				wn -= iv.Len
			} else {
				u.ivs[i].Base += uintptr(wn)
				u.ivs[i].Len -= wn
				ivs = append(ivs, u.ivs[i:]...)
				break
			}
		}
		u.ivs = ivs
		done = len(ivs) == 0

	default:
		panic("unexpected type")
	}
	return u.n, done
}

//go:norace
func (u *userData) SendRes(res int32) {
	u.mu.Lock()
	u.result = res
	u.done = true
	w := u.waker
	u.mu.Unlock()
	w.Wake()
}

// armWaker reports the final result if the operation already completed;
// otherwise it records w so SendRes wakes it later.
func (u *userData) armWaker(w cont.Waker) (int32, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.done {
		return u.result, true
	}
	u.waker = w
	return 0, false
}
