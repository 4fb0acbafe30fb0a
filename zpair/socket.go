package zpair

import (
	"fmt"
	"sync"

	"github.com/pborman/uuid"
	zmq "github.com/pebbe/zmq4"
)

type command string

const (
	_CLOSE = command("close") // 关闭连接
)

const chanCap = 1024

// socket 包装 zmq.PAIR：收发各一条 goroutine，发送经 inproc PUSH/PULL
// 中转（zmq socket 不能跨 goroutine 使用），指令经 inproc PAIR 下发。
type socket struct {
	id       string
	soc      *zmq.Socket
	endpoint string

	recvChan    chan [][]byte
	sendChan    chan [][]byte
	commandChan chan command
	errChan     chan error
	done        chan struct{}

	lock    sync.Mutex
	isClose bool
}

func newSocket(endpoint string, bind bool) (*socket, error) {
	soc, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		return nil, err
	}
	if bind {
		err = soc.Bind(endpoint)
	} else {
		err = soc.Connect(endpoint)
	}
	if err != nil {
		soc.Close()
		return nil, err
	}

	s := &socket{
		id:          uuid.NewRandom().String(),
		soc:         soc,
		endpoint:    endpoint,
		recvChan:    make(chan [][]byte, chanCap),
		sendChan:    make(chan [][]byte, chanCap),
		commandChan: make(chan command),
		errChan:     make(chan error, chanCap),
		done:        make(chan struct{}),
	}
	go s.mainLoop()
	go s.sendLoop()
	return s, nil
}

func (s *socket) mainLoop() {
	// 接收 send 消息
	localPull, err := zmq.NewSocket(zmq.PULL)
	if err != nil {
		s.fail(err)
		return
	}
	if err := localPull.Connect(fmt.Sprintf("inproc://local_pull_%s", s.id)); err != nil {
		s.fail(err)
		return
	}
	defer localPull.Close()

	// pipe 接收指令
	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		s.fail(err)
		return
	}
	if err := pipe.Connect(fmt.Sprintf("inproc://local_pipe_%s", s.id)); err != nil {
		s.fail(err)
		return
	}
	defer pipe.Close()

	poller := zmq.NewPoller()
	poller.Add(s.soc, zmq.POLLIN)
	poller.Add(localPull, zmq.POLLIN)
	poller.Add(pipe, zmq.POLLIN)
	for {
		polls, err := poller.Poll(-1)
		if err != nil {
			s.fail(err)
			continue
		}

		for _, p := range polls {
			switch soc := p.Socket; soc {
			case pipe:
				cmd, err := pipe.RecvMessage(0)
				if err != nil {
					s.fail(err)
					return
				}
				switch command(cmd[0]) {
				case _CLOSE:
					pipe.SendMessage("ok")
					s.soc.Close()
					close(s.done)
					return
				}
			case localPull:
				msg, err := localPull.RecvMessageBytes(0)
				if err != nil {
					s.fail(err)
					continue
				}
				if _, err := s.soc.SendMessage(msg); err != nil {
					s.fail(err)
					continue
				}
			case s.soc:
				msg, err := s.soc.RecvMessageBytes(0)
				if err != nil {
					s.fail(err)
					continue
				}
				select {
				case s.recvChan <- msg:
				case <-s.done:
					return
				}
			}
		}
	}
}

func (s *socket) sendLoop() {
	localPush, err := zmq.NewSocket(zmq.PUSH)
	if err != nil {
		s.fail(err)
		return
	}
	if err := localPush.Bind(fmt.Sprintf("inproc://local_pull_%s", s.id)); err != nil {
		s.fail(err)
		return
	}
	defer localPush.Close()

	pipe, err := zmq.NewSocket(zmq.PAIR)
	if err != nil {
		s.fail(err)
		return
	}
	if err := pipe.Bind(fmt.Sprintf("inproc://local_pipe_%s", s.id)); err != nil {
		s.fail(err)
		return
	}
	defer pipe.Close()

	for {
		select {
		case cmd := <-s.commandChan:
			switch cmd {
			case _CLOSE:
				if _, err := pipe.SendMessage(string(cmd)); err != nil {
					s.fail(err)
				}
				pipe.RecvMessage(0)
				return
			}
		case msg := <-s.sendChan:
			if _, err := localPush.SendMessage(msg); err != nil {
				s.fail(err)
			}
		}
	}
}

func (s *socket) fail(err error) {
	select {
	case s.errChan <- err:
	default:
	}
}

func (s *socket) Close() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.isClose {
		return
	}
	s.isClose = true
	s.commandChan <- _CLOSE
}

func (s *socket) closed() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.isClose
}
