package system

// demoSource is what the machine boots when neither a program nor a
// disk image is given: it prints a banner and stops.
const demoSource = `
        load    r2, 1
        la      r3, banner
        load    r4, 15
        syscall 1
        halt

banner: .string "nanocore ready."
`

// bootSource is the disk bootstrap: it reads the first sector into
// memory at 0x20000 and enters it. The boot block is responsible for
// loading the rest of its image.
const bootSource = `
        load    r10, 1
        load    r11, 63
        shl     r10, r10, r11
        load    r11, 4096
        add     r10, r10, r11   ; disk register page

        load    r11, 2
        load    r12, 16
        shl     r11, r11, r12   ; load target 0x20000

        st      r0, 16(r10)     ; sector 0
        st      r11, 24(r10)    ; dma address
        load    r12, 1
        st      r12, 32(r10)    ; one sector
        st      r12, 0(r10)     ; read command

        ld      r12, 8(r10)     ; status
        load    r13, 2
        and     r12, r12, r13
        bne     r12, r0, fail   ; error bit set, no boot block
        jmp     r11
fail:   halt
`
